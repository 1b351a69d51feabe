package eventstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	logMsgAppendingUncommitted  = "appending uncommitted event to stream"
	logMsgClearingUncommitted   = "clearing uncommitted changes"
	logMsgAttemptingCommit      = "attempting to commit changes"
	logMsgNoChangesToCommit     = "no changes to commit"
	logMsgPersistingCommit      = "persisting commit"
	logMsgUnderlyingStreamMoved = "underlying stream has changed since it was loaded, rebasing"
	logMsgAddingCommit          = "adding commit to stream"
	logMsgIgnoringBeyond        = "ignoring events beyond max revision"
	logMsgIgnoringBefore        = "ignoring events before min revision"
	logMsgCommitRejected        = "commit was rejected by the pipeline"
	logAttrBucketID             = "bucket_id"
	logAttrStreamID             = "stream_id"
	logAttrCommitID             = "commit_id"
	logAttrEventCount           = "event_count"
	logAttrMinRevision          = "min_revision"
	logAttrMaxRevision          = "max_revision"
)

// StreamCommitter is what an OptimisticEventStream reads from and writes through.
// OptimisticEventStore implements it with pipeline hooks applied to both directions.
// A nil *Commit with a nil error means the attempt was rejected by a hook.
type StreamCommitter interface {
	ReadForward(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int) *Sequence[Commit]
	Commit(ctx context.Context, attempt CommitAttempt) (*Commit, error)
}

// OptimisticEventStream tracks the committed history of one (bucket, stream) and buffers new events
// until CommitChanges. Writes are guarded optimistically: the backend rejects a commit whose sequence
// or revision range was taken by another writer, and the stream then rebases onto what actually landed.
//
// An OptimisticEventStream is not safe for concurrent use.
type OptimisticEventStream struct {
	bucketID string
	streamID string

	committer StreamCommitter
	now       func() time.Time
	logger    Logger

	committed          []EventMessage
	committedHeaders   Headers
	uncommitted        []EventMessage
	uncommittedHeaders Headers
	identifiers        map[uuid.UUID]struct{}

	streamRevision int
	commitSequence int
	closed         bool
}

func newOptimisticEventStream(
	bucketID string,
	streamID string,
	committer StreamCommitter,
	now func() time.Time,
	logger Logger,
) *OptimisticEventStream {

	return &OptimisticEventStream{
		bucketID:           bucketID,
		streamID:           streamID,
		committer:          committer,
		now:                now,
		logger:             logger,
		committed:          make([]EventMessage, 0),
		committedHeaders:   make(Headers),
		uncommitted:        make([]EventMessage, 0),
		uncommittedHeaders: make(Headers),
		identifiers:        make(map[uuid.UUID]struct{}),
	}
}

// BucketID returns the bucket the stream belongs to.
func (s *OptimisticEventStream) BucketID() string {
	return s.bucketID
}

// StreamID returns the stream id.
func (s *OptimisticEventStream) StreamID() string {
	return s.streamID
}

// StreamRevision returns the revision of the last committed event the stream has seen.
func (s *OptimisticEventStream) StreamRevision() int {
	return s.streamRevision
}

// CommitSequence returns the sequence of the last commit the stream has seen.
func (s *OptimisticEventStream) CommitSequence() int {
	return s.commitSequence
}

// CommittedEvents returns a copy of the committed events within the loaded revision window.
func (s *OptimisticEventStream) CommittedEvents() []EventMessage {
	return slices.Clone(s.committed)
}

// CommittedHeaders returns a copy of the headers merged from all loaded commits.
func (s *OptimisticEventStream) CommittedHeaders() Headers {
	return maps.Clone(s.committedHeaders)
}

// UncommittedEvents returns a copy of the events waiting for CommitChanges.
func (s *OptimisticEventStream) UncommittedEvents() []EventMessage {
	return slices.Clone(s.uncommitted)
}

// UncommittedHeaders returns a copy of the headers that will be attached to the next commit.
func (s *OptimisticEventStream) UncommittedHeaders() Headers {
	return maps.Clone(s.uncommittedHeaders)
}

// HasChanges reports whether there are uncommitted events.
func (s *OptimisticEventStream) HasChanges() bool {
	return len(s.uncommitted) > 0
}

// Initialize loads the commits containing events within [minRevision, maxRevision].
// It fails with ErrStreamNotFound when minRevision > 0 and nothing was loaded.
func (s *OptimisticEventStream) Initialize(ctx context.Context, minRevision, maxRevision int) error {
	if s.closed {
		return ErrUseAfterClose
	}

	commits := s.committer.ReadForward(ctx, s.bucketID, s.streamID, minRevision, maxRevision)
	if err := s.populate(minRevision, maxRevision, commits); err != nil {
		return err
	}

	if minRevision > 0 && len(s.committed) == 0 {
		return ErrStreamNotFound
	}

	return nil
}

// InitializeFromSnapshot loads the commits after the snapshot's revision up to maxRevision.
// The snapshot must belong to this stream.
func (s *OptimisticEventStream) InitializeFromSnapshot(ctx context.Context, snapshot Snapshot, maxRevision int) error {
	if s.closed {
		return ErrUseAfterClose
	}

	if snapshot.BucketID != s.bucketID || snapshot.StreamID != s.streamID {
		return ErrSnapshotStreamMismatch
	}

	commits := s.committer.ReadForward(ctx, s.bucketID, s.streamID, snapshot.StreamRevision, maxRevision)
	if err := s.populate(snapshot.StreamRevision+1, maxRevision, commits); err != nil {
		return err
	}

	s.streamRevision = snapshot.StreamRevision + len(s.committed)

	return nil
}

// Add buffers an event for the next commit. An event without body is ignored.
func (s *OptimisticEventStream) Add(event EventMessage) error {
	if s.closed {
		return ErrUseAfterClose
	}

	if event.IsEmpty() {
		return nil
	}

	s.logDebug(logMsgAppendingUncommitted)
	s.uncommitted = append(s.uncommitted, event)

	return nil
}

// SetHeader sets a header that will be attached to the next commit.
func (s *OptimisticEventStream) SetHeader(key string, value any) error {
	if s.closed {
		return ErrUseAfterClose
	}

	s.uncommittedHeaders[key] = value

	return nil
}

// CommitChanges persists the buffered events as one commit identified by commitID.
//
// It is a no-op without buffered events. It fails with ErrDuplicateCommit when commitID was already
// seen by this stream. When the backend reports ErrConcurrencyConflict, the stream re-reads everything
// after its last known revision, keeps the buffered events and returns the conflict, so the caller can
// decide whether to retry.
func (s *OptimisticEventStream) CommitChanges(ctx context.Context, commitID uuid.UUID) error {
	if s.closed {
		return ErrUseAfterClose
	}

	s.logDebug(logMsgAttemptingCommit, logAttrCommitID, commitID.String())

	if _, seen := s.identifiers[commitID]; seen {
		return ErrDuplicateCommit
	}

	if !s.HasChanges() {
		s.logWarn(logMsgNoChangesToCommit)
		return nil
	}

	persistErr := s.persistChanges(ctx, commitID)
	if persistErr == nil {
		return nil
	}

	if !errors.Is(persistErr, ErrConcurrencyConflict) {
		return persistErr
	}

	s.logInfo(logMsgUnderlyingStreamMoved)

	commits := s.committer.ReadForward(ctx, s.bucketID, s.streamID, s.streamRevision+1, MaxRevision)
	if err := s.populate(s.streamRevision+1, MaxRevision, commits); err != nil {
		return errors.Join(persistErr, err)
	}

	return persistErr
}

// ClearChanges discards the buffered events and headers.
func (s *OptimisticEventStream) ClearChanges() error {
	if s.closed {
		return ErrUseAfterClose
	}

	s.clear()

	return nil
}

// Close makes the stream unusable. It is idempotent.
func (s *OptimisticEventStream) Close() error {
	s.closed = true
	return nil
}

func (s *OptimisticEventStream) persistChanges(ctx context.Context, commitID uuid.UUID) error {
	attempt := s.buildCommitAttempt(commitID)

	s.logDebug(logMsgPersistingCommit, logAttrCommitID, commitID.String(), logAttrEventCount, len(attempt.Events))

	commit, err := s.committer.Commit(ctx, attempt)
	if err != nil {
		return err
	}

	if commit != nil {
		if populateErr := s.populate(s.streamRevision+1, attempt.StreamRevision, FromSlice([]Commit{*commit})); populateErr != nil {
			return populateErr
		}
	} else {
		s.logInfo(logMsgCommitRejected, logAttrCommitID, commitID.String())
	}

	s.clear()

	return nil
}

func (s *OptimisticEventStream) buildCommitAttempt(commitID uuid.UUID) CommitAttempt {
	return CommitAttempt{
		BucketID:       s.bucketID,
		StreamID:       s.streamID,
		StreamRevision: s.streamRevision + len(s.uncommitted),
		CommitID:       commitID,
		CommitSequence: s.commitSequence + 1,
		CommitStamp:    s.now(),
		Headers:        maps.Clone(s.uncommittedHeaders),
		Events:         slices.Clone(s.uncommitted),
	}
}

// populate merges commits into the committed state, honoring [minRevision, maxRevision] per event.
func (s *OptimisticEventStream) populate(minRevision, maxRevision int, commits *Sequence[Commit]) error {
	for commit := range commits.All() {
		s.logDebug(logMsgAddingCommit, logAttrCommitID, commit.CommitID.String(), logAttrEventCount, len(commit.Events))

		s.identifiers[commit.CommitID] = struct{}{}
		s.commitSequence = commit.CommitSequence

		currentRevision := commit.FirstRevision()
		if currentRevision > maxRevision {
			break
		}

		maps.Copy(s.committedHeaders, commit.Headers)
		s.copyToEvents(minRevision, maxRevision, currentRevision, commit)
	}

	return commits.Err()
}

func (s *OptimisticEventStream) copyToEvents(minRevision, maxRevision, currentRevision int, commit Commit) {
	for _, event := range commit.Events {
		if currentRevision > maxRevision {
			s.logDebug(logMsgIgnoringBeyond, logAttrCommitID, commit.CommitID.String(), logAttrMaxRevision, maxRevision)
			break
		}

		if currentRevision < minRevision {
			s.logDebug(logMsgIgnoringBefore, logAttrCommitID, commit.CommitID.String(), logAttrMinRevision, minRevision)
			currentRevision++

			continue
		}

		s.committed = append(s.committed, event)
		s.streamRevision = currentRevision
		currentRevision++
	}
}

func (s *OptimisticEventStream) clear() {
	s.logDebug(logMsgClearingUncommitted)
	s.uncommitted = make([]EventMessage, 0)
	s.uncommittedHeaders = make(Headers)
}

func (s *OptimisticEventStream) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, append([]any{logAttrBucketID, s.bucketID, logAttrStreamID, s.streamID}, args...)...)
	}
}

func (s *OptimisticEventStream) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, append([]any{logAttrBucketID, s.bucketID, logAttrStreamID, s.streamID}, args...)...)
	}
}

func (s *OptimisticEventStream) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, append([]any{logAttrBucketID, s.bucketID, logAttrStreamID, s.streamID}, args...)...)
	}
}
