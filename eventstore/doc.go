// Package eventstore provides the core of an event-sourcing storage layer with optimistic concurrency.
//
// Every aggregate owns a stream identified by (bucket, stream). A stream is an append-only list of
// commits, each commit an atomically persisted batch of events. Writers never lock: an
// OptimisticEventStream remembers the revision and commit sequence it has seen and the backend rejects
// a commit that lost the race with ErrConcurrencyConflict. The stream then rebases onto what actually
// landed and keeps the uncommitted events, so the caller can decide whether to retry.
//
// Backends implement Persistence. Every multi-row read returns a Sequence, a lazy pull-based sequence
// whose producer never runs more than one item ahead of the consumer.
//
// Key types:
//   - OptimisticEventStore: composes a Persistence with PipelineHooks and opens streams
//   - OptimisticEventStream: per-stream cursor that loads history, buffers and commits events
//   - Commit, CommitAttempt, EventMessage, Snapshot, StreamHead: the record model
//   - Checkpoint, LongCheckpoint: positions in the global commit feed
//   - Sequence: the lazy pull sequence used by all reads
//
// Common usage pattern:
//
//	store, err := eventstore.NewOptimisticEventStore(persistence, eventstore.WithLogger(logger))
//	if err != nil {
//		// handle error
//	}
//	defer store.Close()
//
//	stream, err := store.OpenStream(ctx, eventstore.DefaultBucket, accountID, 0, 0)
//	if err != nil {
//		// handle error
//	}
//
//	_ = stream.Add(eventstore.EventMessage{Body: MoneyDeposited{Amount: 100}})
//
//	err = stream.CommitChanges(ctx, uuid.New())
//	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
//		// the stream was rebased; inspect stream.CommittedEvents() and retry or give up
//	}
package eventstore
