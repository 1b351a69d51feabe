package adapters

import (
	"context"
	"database/sql"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

// sqlQuerier is what sql.DB and sqlx.DB have in common for our purposes.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// stdAdapter implements DBAdapter on top of a sqlQuerier with an optional replica.
type stdAdapter struct {
	primary sqlQuerier
	replica sqlQuerier
}

func (s stdAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	db := s.primary

	if s.replica != nil && eventstore.GetConsistencyLevel(ctx) == eventstore.EventualConsistency {
		db = s.replica
	}

	return queryStd(ctx, db, query)
}

func (s stdAdapter) QueryPrimary(ctx context.Context, query string) (DBRows, error) {
	return queryStd(ctx, s.primary, query)
}

func (s stdAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.primary.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

func (s stdAdapter) Ping(ctx context.Context) error {
	return s.primary.PingContext(ctx)
}

func queryStd(ctx context.Context, db sqlQuerier, query string) (DBRows, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// stdRows wraps standard library sql.Rows to implement DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

func (s *stdRows) Next() bool {
	return s.rows.Next()
}

func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *stdRows) Err() error {
	return s.rows.Err()
}

func (s *stdRows) Close() error {
	return s.rows.Close()
}

// stdResult wraps standard library sql.Result to implement DBResult interface.
type stdResult struct {
	result sql.Result
}

func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}
