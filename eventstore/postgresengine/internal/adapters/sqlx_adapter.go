package adapters

import (
	"github.com/jmoiron/sqlx"
)

// SQLXAdapter implements DBAdapter for sqlx.DB.
type SQLXAdapter struct {
	stdAdapter
}

// NewSQLXAdapter creates a new SQLX adapter.
func NewSQLXAdapter(db *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{stdAdapter{primary: db}}
}

// NewSQLXAdapterWithReplica creates a new SQLX adapter that serves eventually consistent reads from replica.
func NewSQLXAdapterWithReplica(db *sqlx.DB, replica *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{stdAdapter{primary: db, replica: replica}}
}
