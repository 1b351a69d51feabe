package config

import "time"

// PoolSettings are the connection pool limits applied to every adapter type.
type PoolSettings struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// TestPoolSettings are small limits for the test suite.
func TestPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  2 * time.Second,
	}
}

// ReplicatedPoolSettings are the limits for a primary or replica node of a replicated database.
func ReplicatedPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConns:        60,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}
