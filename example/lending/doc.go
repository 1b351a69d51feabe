// Package lending is a small example on top of the optimistic event store.
//
// Every library book copy is one stream in the "library" bucket. The CommandHandler opens the
// stream, projects its history, lets the pure Decide function pick the next event and commits it.
// A lost race surfaces as eventstore.ErrConcurrencyConflict; the handler then retries the whole
// Open -> Decide -> Commit cycle with exponential backoff, so the second decision sees the commit
// it lost against.
//
// Usage:
//
//	engine, _ := memoryengine.NewEngine()
//	store, _ := eventstore.NewOptimisticEventStore(engine)
//	handler, _ := lending.NewCommandHandler(store)
//
//	_, err := handler.Handle(ctx, lending.LendBookCopy{BookID: bookID, ReaderID: readerID, OccurredAt: time.Now()})
package lending
