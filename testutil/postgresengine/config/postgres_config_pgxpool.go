package config

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPGXPoolConfig creates a pgxpool.Config for dsn with the given pool settings.
func PostgresPGXPoolConfig(dsn string, settings PoolSettings) (*pgxpool.Config, error) {
	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	dbConfig.MaxConns = int32(settings.MaxConns)
	dbConfig.MinConns = int32(settings.MinConns)
	dbConfig.MaxConnLifetime = settings.MaxConnLifetime
	dbConfig.MaxConnIdleTime = settings.MaxConnIdleTime
	dbConfig.ConnConfig.ConnectTimeout = settings.ConnectTimeout

	return dbConfig, nil
}
