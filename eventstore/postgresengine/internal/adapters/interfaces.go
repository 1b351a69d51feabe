package adapters

import "context"

// DBAdapter defines the interface for database operations needed by the engine.
//
// Query routes to the replica when one is configured and the context asks for eventual consistency,
// Exec and QueryPrimary always go to the primary.
type DBAdapter interface {
	Query(ctx context.Context, query string) (DBRows, error)
	QueryPrimary(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
	Ping(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
