package pgtesthelpers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/postgresengine"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/postgresengine/config"
)

// Adapter type constants, selected via ADAPTER_TYPE.
const (
	TypePGXPool = "pgx.pool"
	TypeSQLDB   = "sql.db"
	TypeSQLXDB  = "sqlx.db"

	envAdapterType = "ADAPTER_TYPE"
	pingTimeout    = 2 * time.Second
)

// AdapterType returns the adapter type selected via ADAPTER_TYPE.
func AdapterType() string {
	adapterType := strings.ToLower(os.Getenv(envAdapterType))
	if adapterType == "" {
		return TypePGXPool
	}

	return adapterType
}

// UniqueTableNames returns commits and snapshots table names unique to one test.
func UniqueTableNames() (commitsTable string, snapshotsTable string) {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	return "commits_" + suffix, "snapshots_" + suffix
}

// NewTestEngine connects with the selected adapter, creates unique tables and returns the engine.
// The tables are dropped and the connection is closed on test cleanup.
// The test is skipped when the database is unreachable.
func NewTestEngine(t testing.TB, options ...postgresengine.Option) *postgresengine.Engine {
	t.Helper()

	return newTestEngine(t, false, options...)
}

// NewTestEngineWithReplica is NewTestEngine with the engine configured for replica reads.
// Primary and replica both point to the test database, which exercises the routing without a
// replicated setup.
func NewTestEngineWithReplica(t testing.TB, options ...postgresengine.Option) *postgresengine.Engine {
	t.Helper()

	return newTestEngine(t, true, options...)
}

func newTestEngine(t testing.TB, withReplica bool, options ...postgresengine.Option) *postgresengine.Engine {
	t.Helper()

	commitsTable, snapshotsTable := UniqueTableNames()
	options = append([]postgresengine.Option{
		postgresengine.WithCommitsTableName(commitsTable),
		postgresengine.WithSnapshotsTableName(snapshotsTable),
	}, options...)

	newEngine, closeDB := connect(t, withReplica, options...)

	engine, err := newEngine()
	require.NoError(t, err, "error creating the engine in test setup")

	// a separate engine drops the tables, so tests may close theirs
	janitor, err := newEngine()
	require.NoError(t, err, "error creating the engine in test setup")

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err = engine.Ping(ctx); err != nil {
		closeDB()
		t.Skipf("postgres is not reachable at %s: %v", config.PostgresSingleDSN(), err)
	}

	require.NoError(t, engine.CreateSchema(context.Background()), "error creating the schema in test setup")

	t.Cleanup(func() {
		_ = janitor.Drop(context.Background())
		closeDB()
	})

	return engine
}

type engineFactory func() (*postgresengine.Engine, error)

// connect opens the database handle of the selected adapter and returns an engine factory on top
// of it together with a func closing the handle.
func connect(t testing.TB, withReplica bool, options ...postgresengine.Option) (engineFactory, func()) {
	t.Helper()

	dsn := config.PostgresSingleDSN()
	settings := config.TestPoolSettings()

	switch AdapterType() {
	case TypePGXPool:
		poolConfig, err := config.PostgresPGXPoolConfig(dsn, settings)
		require.NoError(t, err, "error parsing the DSN in test setup")

		pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		require.NoError(t, err, "error creating the DB pool in test setup")

		return func() (*postgresengine.Engine, error) {
			if withReplica {
				return postgresengine.NewEngineFromPGXPoolWithReplica(pool, pool, options...)
			}

			return postgresengine.NewEngineFromPGXPool(pool, options...)
		}, pool.Close

	case TypeSQLDB:
		db, err := config.PostgresSQLDB(dsn, settings)
		require.NoError(t, err, "error opening the DB in test setup")

		return func() (*postgresengine.Engine, error) {
			if withReplica {
				return postgresengine.NewEngineFromSQLDBWithReplica(db, db, options...)
			}

			return postgresengine.NewEngineFromSQLDB(db, options...)
		}, func() { _ = db.Close() }

	case TypeSQLXDB:
		db, err := config.PostgresSQLX(dsn, settings)
		require.NoError(t, err, "error opening the DB in test setup")

		return func() (*postgresengine.Engine, error) {
			if withReplica {
				return postgresengine.NewEngineFromSQLXWithReplica(db, db, options...)
			}

			return postgresengine.NewEngineFromSQLX(db, options...)
		}, func() { _ = db.Close() }

	default:
		panic(fmt.Sprintf("unsupported adapter type from env: %s", AdapterType()))
	}
}
