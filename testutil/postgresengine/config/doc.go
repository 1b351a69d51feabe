// Package config provides PostgreSQL connection configuration for the engine tests and the commitfeed command.
//
// DSNs default to the docker-compose setup and can be overridden with TEST_DSN, TEST_PRIMARY_DSN
// and TEST_REPLICA_DSN. Connections are created for all supported adapters (pgx.Pool, sql.DB, sqlx.DB).
package config
