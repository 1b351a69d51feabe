// Package pgtesthelpers provides test utilities for the PostgreSQL engine with multi-adapter support.
//
// The adapter under test is selected with the ADAPTER_TYPE environment variable
// (pgx.pool, sql.db, sqlx.db; default pgx.pool). Every engine created by NewTestEngine works on
// its own freshly created tables, which are dropped when the test finishes, so tests can run
// in parallel without cleaning up after each other.
//
// Tests are skipped when the database from config.PostgresSingleDSN is unreachable.
package pgtesthelpers
