package config

import (
	"database/sql"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresSQLDB opens a *sql.DB for dsn with the given pool settings. It does not connect yet.
func PostgresSQLDB(dsn string, settings PoolSettings) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	applyPoolSettings(db, settings)

	return db, nil
}

func applyPoolSettings(db *sql.DB, settings PoolSettings) {
	db.SetMaxOpenConns(settings.MaxConns)
	db.SetMaxIdleConns(settings.MinConns)
	db.SetConnMaxLifetime(settings.MaxConnLifetime)
	db.SetConnMaxIdleTime(settings.MaxConnIdleTime)
}
