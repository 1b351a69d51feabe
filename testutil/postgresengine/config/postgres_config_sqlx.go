package config

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// PostgresSQLX opens a *sqlx.DB for dsn with the given pool settings. It does not connect yet.
func PostgresSQLX(dsn string, settings PoolSettings) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	applyPoolSettings(db.DB, settings)

	return db, nil
}
