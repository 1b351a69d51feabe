package lending

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

// Bucket holds one stream per book copy, keyed by the book id.
const Bucket = "library"

// ErrNilEventStore is returned when NewCommandHandler gets a nil store.
var ErrNilEventStore = errors.New("event store must not be nil")

// StreamOpener is the part of the event store the CommandHandler needs.
type StreamOpener interface {
	OpenStream(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int) (*eventstore.OptimisticEventStream, error)
}

// Result is what Handle reports besides the business error.
type Result struct {
	Idempotent bool
	Retry      RetryMetadata
}

// CommandHandler runs Open -> Decide -> Commit for book copy commands and retries on concurrency conflicts.
type CommandHandler struct {
	store        StreamOpener
	retryOptions []RetryOption
}

// HandlerOption configures a CommandHandler.
type HandlerOption func(*CommandHandler)

// WithRetryOptions replaces the default retry configuration.
func WithRetryOptions(options ...RetryOption) HandlerOption {
	return func(h *CommandHandler) {
		h.retryOptions = options
	}
}

func NewCommandHandler(store StreamOpener, options ...HandlerOption) (*CommandHandler, error) {
	if store == nil {
		return nil, ErrNilEventStore
	}

	handler := &CommandHandler{store: store}

	for _, option := range options {
		option(handler)
	}

	return handler, nil
}

// Handle decides command against the current book copy stream and commits the resulting event.
// Every attempt reopens the stream, so a retried decision sees the commit it lost against.
func (h *CommandHandler) Handle(ctx context.Context, command Command) (Result, error) {
	var result Result

	meta, err := RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		idempotent, execErr := h.execute(ctx, command)
		result.Idempotent = idempotent

		return execErr
	}, h.retryOptions...)

	result.Retry = meta

	return result, err
}

func (h *CommandHandler) execute(ctx context.Context, command Command) (bool, error) {
	stream, err := h.store.OpenStream(ctx, Bucket, command.bookID().String(), 0, eventstore.MaxRevision)
	if err != nil {
		return false, err
	}
	defer stream.Close() //nolint:errcheck // Close never fails

	history, err := DomainEventsFrom(stream.CommittedEvents())
	if err != nil {
		return false, err
	}

	decision := Decide(history, command)

	if decision.IsIdempotent() {
		return true, nil
	}

	if !decision.HasEventToAppend() {
		return false, decision.Err
	}

	if err = stream.Add(EventMessageFrom(decision.Event)); err != nil {
		return false, err
	}

	if err = stream.CommitChanges(ctx, uuid.New()); err != nil {
		return false, err
	}

	return false, nil
}
