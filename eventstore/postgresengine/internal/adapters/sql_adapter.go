package adapters

import (
	"database/sql"
)

// SQLAdapter implements DBAdapter for sql.DB.
type SQLAdapter struct {
	stdAdapter
}

// NewSQLAdapter creates a new SQL adapter.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{stdAdapter{primary: db}}
}

// NewSQLAdapterWithReplica creates a new SQL adapter that serves eventually consistent reads from replica.
func NewSQLAdapterWithReplica(db *sql.DB, replica *sql.DB) *SQLAdapter {
	return &SQLAdapter{stdAdapter{primary: db, replica: replica}}
}
