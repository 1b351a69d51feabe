// Package adapters provide database adapter implementations for the PostgreSQL engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgx.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface, including optional primary/replica routing by consistency level,
// and classify driver errors independently of the library that raised them.
package adapters
