package eventstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	logMsgCreatingStream       = "creating stream"
	logMsgOpeningStream        = "opening stream"
	logMsgCommitVetoed         = "commit vetoed by pipeline hook"
	logMsgPostCommitHookFailed = "post-commit hook failed"
	logMsgClosingStore         = "closing event store"
	logMsgClosingHookFailed    = "closing pipeline hook failed"
	logAttrHookIndex           = "hook_index"
	logAttrErr                 = "error"
)

// ErrNilPipelineHook is returned when a nil hook is configured.
var ErrNilPipelineHook = errors.New("pipeline hook must not be nil")

// Option configures an OptimisticEventStore.
type Option func(*OptimisticEventStore) error

// WithPipelineHooks appends hooks to the pipeline. Hooks run in the order they were added.
func WithPipelineHooks(hooks ...PipelineHook) Option {
	return func(es *OptimisticEventStore) error {
		for _, hook := range hooks {
			if hook == nil {
				return ErrNilPipelineHook
			}
		}

		es.hooks = append(es.hooks, hooks...)

		return nil
	}
}

// WithLogger sets the logger for the store and the streams it creates.
func WithLogger(logger Logger) Option {
	return func(es *OptimisticEventStore) error {
		es.logger = logger
		return nil
	}
}

// WithClock sets the clock used to stamp commits. Defaults to time.Now in UTC.
func WithClock(now func() time.Time) Option {
	return func(es *OptimisticEventStore) error {
		if now != nil {
			es.now = now
		}

		return nil
	}
}

// OptimisticEventStore composes a Persistence with an ordered list of pipeline hooks
// and hands out OptimisticEventStreams bound to it.
//
// It is safe for concurrent use; the streams it creates are not.
type OptimisticEventStore struct {
	persistence *pipelineHooksAwarePersistence
	hooks       []PipelineHook
	now         func() time.Time
	logger      Logger
	closeOnce   sync.Once
	closeErr    error
}

// NewOptimisticEventStore creates an OptimisticEventStore on top of persistence.
func NewOptimisticEventStore(persistence Persistence, options ...Option) (*OptimisticEventStore, error) {
	if persistence == nil {
		return nil, ErrNilPersistence
	}

	es := &OptimisticEventStore{
		hooks: make([]PipelineHook, 0),
		now:   func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	es.persistence = newPipelineHooksAwarePersistence(persistence, es.hooks)

	return es, nil
}

// Advanced returns the underlying Persistence with the pipeline hooks applied to reads, purges and deletes.
func (es *OptimisticEventStore) Advanced() Persistence {
	return es.persistence
}

// ReadForward returns the commits of one stream within [minRevision, maxRevision] as selected by the hooks.
func (es *OptimisticEventStore) ReadForward(
	ctx context.Context,
	bucketID string,
	streamID string,
	minRevision int,
	maxRevision int,
) *Sequence[Commit] {

	return es.persistence.ReadForward(ctx, bucketID, streamID, minRevision, maxRevision)
}

// Commit runs the attempt through the pipeline and persists it.
//
// It returns nil, nil when a PreCommit hook rejected the attempt; later hooks are not invoked.
// PostCommit hook failures are logged and do not fail the commit.
func (es *OptimisticEventStore) Commit(ctx context.Context, attempt CommitAttempt) (*Commit, error) {
	for i, hook := range es.hooks {
		accepted, err := hook.PreCommit(ctx, attempt)
		if err != nil {
			return nil, err
		}

		if !accepted {
			es.logInfo(logMsgCommitVetoed,
				logAttrBucketID, attempt.BucketID,
				logAttrStreamID, attempt.StreamID,
				logAttrCommitID, attempt.CommitID.String(),
				logAttrHookIndex, i,
			)

			return nil, nil
		}
	}

	commit, err := es.persistence.Commit(ctx, attempt)
	if err != nil {
		return nil, err
	}

	for i, hook := range es.hooks {
		if hookErr := hook.PostCommit(ctx, commit); hookErr != nil {
			es.logWarn(logMsgPostCommitHookFailed,
				logAttrCommitID, commit.CommitID.String(),
				logAttrHookIndex, i,
				logAttrErr, hookErr.Error(),
			)
		}
	}

	return &commit, nil
}

// CreateStream returns an empty stream without reading from the persistence.
func (es *OptimisticEventStore) CreateStream(bucketID, streamID string) (*OptimisticEventStream, error) {
	if err := validateStreamIdentity(bucketID, streamID); err != nil {
		return nil, err
	}

	es.logInfo(logMsgCreatingStream, logAttrBucketID, bucketID, logAttrStreamID, streamID)

	return newOptimisticEventStream(bucketID, streamID, es, es.now, es.logger), nil
}

// CreateDefaultStream is CreateStream in the DefaultBucket.
func (es *OptimisticEventStore) CreateDefaultStream(streamID string) (*OptimisticEventStream, error) {
	return es.CreateStream(DefaultBucket, streamID)
}

// OpenStream loads the events within [minRevision, maxRevision] into a new stream.
// A maxRevision <= 0 reads to the end of the stream.
func (es *OptimisticEventStore) OpenStream(
	ctx context.Context,
	bucketID string,
	streamID string,
	minRevision int,
	maxRevision int,
) (*OptimisticEventStream, error) {

	if err := validateStreamIdentity(bucketID, streamID); err != nil {
		return nil, err
	}

	if maxRevision <= 0 {
		maxRevision = MaxRevision
	}

	es.logDebug(logMsgOpeningStream,
		logAttrBucketID, bucketID,
		logAttrStreamID, streamID,
		logAttrMinRevision, minRevision,
		logAttrMaxRevision, maxRevision,
	)

	stream := newOptimisticEventStream(bucketID, streamID, es, es.now, es.logger)
	if err := stream.Initialize(ctx, minRevision, maxRevision); err != nil {
		return nil, err
	}

	return stream, nil
}

// OpenDefaultStream is OpenStream in the DefaultBucket.
func (es *OptimisticEventStore) OpenDefaultStream(
	ctx context.Context,
	streamID string,
	minRevision int,
	maxRevision int,
) (*OptimisticEventStream, error) {

	return es.OpenStream(ctx, DefaultBucket, streamID, minRevision, maxRevision)
}

// OpenStreamFromSnapshot opens the snapshot's stream and loads the events after the snapshot up to maxRevision.
// A maxRevision <= 0 reads to the end of the stream.
func (es *OptimisticEventStore) OpenStreamFromSnapshot(
	ctx context.Context,
	snapshot Snapshot,
	maxRevision int,
) (*OptimisticEventStream, error) {

	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	if maxRevision <= 0 {
		maxRevision = MaxRevision
	}

	es.logDebug(logMsgOpeningStream,
		logAttrBucketID, snapshot.BucketID,
		logAttrStreamID, snapshot.StreamID,
		logAttrMinRevision, snapshot.StreamRevision+1,
		logAttrMaxRevision, maxRevision,
	)

	stream := newOptimisticEventStream(snapshot.BucketID, snapshot.StreamID, es, es.now, es.logger)
	if err := stream.InitializeFromSnapshot(ctx, snapshot, maxRevision); err != nil {
		return nil, err
	}

	return stream, nil
}

// Close closes the persistence and every hook, exactly once.
func (es *OptimisticEventStore) Close() error {
	es.closeOnce.Do(func() {
		es.logDebug(logMsgClosingStore)

		errs := make([]error, 0)

		if err := es.persistence.Close(); err != nil {
			errs = append(errs, err)
		}

		for i, hook := range es.hooks {
			if err := hook.Close(); err != nil {
				es.logWarn(logMsgClosingHookFailed, logAttrHookIndex, i, logAttrErr, err.Error())
				errs = append(errs, err)
			}
		}

		es.closeErr = errors.Join(errs...)
	})

	return es.closeErr
}

func validateStreamIdentity(bucketID, streamID string) error {
	if bucketID == "" {
		return ErrEmptyBucketID
	}

	if streamID == "" {
		return ErrEmptyStreamID
	}

	return nil
}

func (es *OptimisticEventStore) logDebug(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Debug(msg, args...)
	}
}

func (es *OptimisticEventStore) logInfo(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Info(msg, args...)
	}
}

func (es *OptimisticEventStore) logWarn(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Warn(msg, args...)
	}
}

var _ StreamCommitter = (*OptimisticEventStore)(nil)
