// Package postgresengine provides a PostgreSQL implementation of eventstore.Persistence.
//
// Key features:
//   - Multiple database adapter support (pgx.Pool, sql.DB, sqlx.DB)
//   - Optional read replica for eventually consistent reads (see eventstore.WithEventualConsistency)
//   - Atomic, guarded commit insert with duplicate and concurrency conflict detection
//   - Checkpoint-paged reads that stream through an eventstore.Sequence
//   - Snapshots with upsert semantics
//   - Configurable table names, page size, logging, metrics and tracing
//
// Event bodies, headers and snapshot payloads are stored as JSONB. On the way back, event bodies
// and snapshot payloads are returned as jsoniter.RawMessage, ready to be unmarshalled into the
// caller's own types.
//
// Usage examples:
//
//	db, _ := pgxpool.New(ctx, dsn)
//	engine, _ := postgresengine.NewEngineFromPGXPool(db)
//	_ = engine.CreateSchema(ctx)
//
//	// With operational logging and custom table names
//	engine, _ := postgresengine.NewEngineFromPGXPool(
//		db,
//		postgresengine.WithCommitsTableName("orders_commits"),
//		postgresengine.WithSnapshotsTableName("orders_snapshots"),
//		postgresengine.WithLogger(slog.Default()),
//	)
//
//	store, _ := eventstore.NewOptimisticEventStore(engine)
package postgresengine
