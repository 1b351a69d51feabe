package memoryengine

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	logMsgCommitAppended      = "commit appended"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgDuplicateCommit     = "duplicate commit detected"
	logMsgPagedRead           = "read page of commits"
	logMsgPurged              = "purged commits and snapshots"
	logMsgStreamDeleted       = "stream deleted"
	logMsgSnapshotAdded       = "snapshot added"
	logAttrBucketID           = "bucket_id"
	logAttrStreamID           = "stream_id"
	logAttrCommitID           = "commit_id"
	logAttrCheckpoint         = "checkpoint"
	logAttrCommitSequence     = "commit_sequence"
	logAttrStreamRevision     = "stream_revision"
	logAttrPageSize           = "page_size"
	logAttrRowCount           = "row_count"
)

type streamKey struct {
	bucketID string
	streamID string
}

type streamState struct {
	headRevision   int
	commitSequence int
	commitIDs      map[uuid.UUID]struct{}
	snapshots      []eventstore.Snapshot // ascending by revision
}

// Engine is an in-memory eventstore.Persistence.
//
// It enforces the same rules as the SQL engines: a commit must continue the stream's commit sequence
// and revision without gaps, a commit id can be used only once per stream, and checkpoints increase
// across all buckets. Reads collect commits page by page and never hold the lock while the consumer
// processes an item, so a consumer may commit while it iterates.
type Engine struct {
	mu         sync.RWMutex
	commits    []eventstore.Commit // ascending by checkpoint
	checkpoint []int64             // parallel to commits
	streams    map[streamKey]*streamState
	head       int64
	closed     bool

	pageSize int
	logger   eventstore.Logger
}

// NewEngine creates an empty Engine.
func NewEngine(options ...Option) (*Engine, error) {
	e := &Engine{
		commits:    make([]eventstore.Commit, 0),
		checkpoint: make([]int64, 0),
		streams:    make(map[streamKey]*streamState),
		pageSize:   defaultPageSize,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Commit appends the attempt to its stream.
func (e *Engine) Commit(_ context.Context, attempt eventstore.CommitAttempt) (eventstore.Commit, error) {
	if err := attempt.Validate(); err != nil {
		return eventstore.Commit{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return eventstore.Commit{}, eventstore.ErrUseAfterClose
	}

	key := streamKey{bucketID: attempt.BucketID, streamID: attempt.StreamID}

	state, ok := e.streams[key]
	if !ok {
		state = &streamState{commitIDs: make(map[uuid.UUID]struct{})}
	}

	if _, seen := state.commitIDs[attempt.CommitID]; seen {
		e.logInfo(logMsgDuplicateCommit, logAttrBucketID, key.bucketID, logAttrStreamID, key.streamID, logAttrCommitID, attempt.CommitID.String())
		return eventstore.Commit{}, eventstore.ErrDuplicateCommit
	}

	if attempt.CommitSequence != state.commitSequence+1 || attempt.FirstRevision() != state.headRevision+1 {
		e.logInfo(logMsgConcurrencyConflict,
			logAttrBucketID, key.bucketID,
			logAttrStreamID, key.streamID,
			logAttrCommitSequence, attempt.CommitSequence,
			logAttrStreamRevision, attempt.StreamRevision,
		)

		return eventstore.Commit{}, eventstore.ErrConcurrencyConflict
	}

	e.head++
	commit := attempt.ToCommit(eventstore.LongCheckpoint(e.head).Value())

	state.headRevision = attempt.StreamRevision
	state.commitSequence = attempt.CommitSequence
	state.commitIDs[attempt.CommitID] = struct{}{}
	e.streams[key] = state

	e.commits = append(e.commits, commit)
	e.checkpoint = append(e.checkpoint, e.head)

	e.logDebug(logMsgCommitAppended,
		logAttrBucketID, key.bucketID,
		logAttrStreamID, key.streamID,
		logAttrCommitID, commit.CommitID.String(),
		logAttrCheckpoint, commit.CheckpointToken,
	)

	return cloneCommit(commit), nil
}

// ReadForward returns the commits of one stream containing events within [minRevision, maxRevision].
func (e *Engine) ReadForward(
	ctx context.Context,
	bucketID string,
	streamID string,
	minRevision int,
	maxRevision int,
) *eventstore.Sequence[eventstore.Commit] {

	return e.read(ctx, 0, func(commit eventstore.Commit) bool {
		return commit.BucketID == bucketID &&
			commit.StreamID == streamID &&
			commit.StreamRevision >= minRevision &&
			commit.FirstRevision() <= maxRevision
	})
}

// ReadFrom returns all commits strictly after checkpointToken.
func (e *Engine) ReadFrom(ctx context.Context, checkpointToken string) *eventstore.Sequence[eventstore.Commit] {
	after, err := eventstore.ParseLongCheckpoint(checkpointToken)
	if err != nil {
		return failed[eventstore.Commit](err)
	}

	return e.read(ctx, int64(after), func(eventstore.Commit) bool { return true })
}

// ReadBucketFrom returns the commits of one bucket strictly after checkpointToken.
func (e *Engine) ReadBucketFrom(
	ctx context.Context,
	bucketID string,
	checkpointToken string,
) *eventstore.Sequence[eventstore.Commit] {

	after, err := eventstore.ParseLongCheckpoint(checkpointToken)
	if err != nil {
		return failed[eventstore.Commit](err)
	}

	return e.read(ctx, int64(after), func(commit eventstore.Commit) bool {
		return commit.BucketID == bucketID
	})
}

// ReadRange returns the commits of one bucket stamped within [start, end). A zero end is unbounded.
func (e *Engine) ReadRange(
	ctx context.Context,
	bucketID string,
	start time.Time,
	end time.Time,
) *eventstore.Sequence[eventstore.Commit] {

	return e.read(ctx, 0, func(commit eventstore.Commit) bool {
		return commit.BucketID == bucketID &&
			!commit.CommitStamp.Before(start) &&
			(end.IsZero() || commit.CommitStamp.Before(end))
	})
}

// ParseCheckpoint parses a token into an eventstore.LongCheckpoint.
func (e *Engine) ParseCheckpoint(token string) (eventstore.Checkpoint, error) {
	return eventstore.ParseLongCheckpoint(token)
}

// GetCheckpoint parses token, or returns the latest assigned checkpoint when token is empty.
func (e *Engine) GetCheckpoint(_ context.Context, token string) (eventstore.Checkpoint, error) {
	if token != "" {
		return e.ParseCheckpoint(token)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, eventstore.ErrUseAfterClose
	}

	return eventstore.LongCheckpoint(e.head), nil
}

// AddSnapshot stores the snapshot. It returns false when the stream has no commits.
// A snapshot at an already snapshotted revision replaces the earlier one.
func (e *Engine) AddSnapshot(_ context.Context, snapshot eventstore.Snapshot) (bool, error) {
	if err := snapshot.Validate(); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, eventstore.ErrUseAfterClose
	}

	state, ok := e.streams[streamKey{bucketID: snapshot.BucketID, streamID: snapshot.StreamID}]
	if !ok {
		return false, nil
	}

	i, found := slices.BinarySearchFunc(state.snapshots, snapshot.StreamRevision, func(s eventstore.Snapshot, rev int) int {
		return cmp.Compare(s.StreamRevision, rev)
	})

	if found {
		state.snapshots[i] = snapshot
	} else {
		state.snapshots = slices.Insert(state.snapshots, i, snapshot)
	}

	e.logDebug(logMsgSnapshotAdded,
		logAttrBucketID, snapshot.BucketID,
		logAttrStreamID, snapshot.StreamID,
		logAttrStreamRevision, snapshot.StreamRevision,
	)

	return true, nil
}

// GetSnapshot returns the most recent snapshot at or below maxRevision, or nil.
func (e *Engine) GetSnapshot(_ context.Context, bucketID, streamID string, maxRevision int) (*eventstore.Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, eventstore.ErrUseAfterClose
	}

	state, ok := e.streams[streamKey{bucketID: bucketID, streamID: streamID}]
	if !ok {
		return nil, nil
	}

	for i := len(state.snapshots) - 1; i >= 0; i-- {
		if state.snapshots[i].StreamRevision <= maxRevision {
			snapshot := state.snapshots[i]
			return &snapshot, nil
		}
	}

	return nil, nil
}

// StreamsToSnapshot returns the heads of all streams in the bucket with at least threshold
// revisions since their latest snapshot, ordered by stream id.
func (e *Engine) StreamsToSnapshot(
	ctx context.Context,
	bucketID string,
	threshold int,
) *eventstore.Sequence[eventstore.StreamHead] {

	e.mu.RLock()

	if e.closed {
		e.mu.RUnlock()
		return failed[eventstore.StreamHead](eventstore.ErrUseAfterClose)
	}

	heads := make([]eventstore.StreamHead, 0)

	for key, state := range e.streams {
		if key.bucketID != bucketID {
			continue
		}

		head := eventstore.StreamHead{
			BucketID:     key.bucketID,
			StreamID:     key.streamID,
			HeadRevision: state.headRevision,
		}

		if n := len(state.snapshots); n > 0 {
			head.SnapshotRevision = state.snapshots[n-1].StreamRevision
		}

		if head.UnsnapshottedRevisions() >= threshold {
			heads = append(heads, head)
		}
	}

	e.mu.RUnlock()

	slices.SortFunc(heads, func(a, b eventstore.StreamHead) int {
		return cmp.Compare(a.StreamID, b.StreamID)
	})

	return eventstore.NewSequence(ctx, func(ctx context.Context, yield func(eventstore.StreamHead) error) error {
		for _, head := range heads {
			if err := yield(head); err != nil {
				return err
			}
		}

		return nil
	})
}

// Purge removes everything. Checkpoints keep increasing afterward.
func (e *Engine) Purge(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return eventstore.ErrUseAfterClose
	}

	e.commits = make([]eventstore.Commit, 0)
	e.checkpoint = make([]int64, 0)
	e.streams = make(map[streamKey]*streamState)

	e.logInfo(logMsgPurged)

	return nil
}

// PurgeBucket removes all commits and snapshots of one bucket.
func (e *Engine) PurgeBucket(_ context.Context, bucketID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return eventstore.ErrUseAfterClose
	}

	e.removeCommits(func(commit eventstore.Commit) bool { return commit.BucketID == bucketID })
	maps.DeleteFunc(e.streams, func(key streamKey, _ *streamState) bool { return key.bucketID == bucketID })

	e.logInfo(logMsgPurged, logAttrBucketID, bucketID)

	return nil
}

// DeleteStream removes all commits and snapshots of one stream.
func (e *Engine) DeleteStream(_ context.Context, bucketID, streamID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return eventstore.ErrUseAfterClose
	}

	e.removeCommits(func(commit eventstore.Commit) bool {
		return commit.BucketID == bucketID && commit.StreamID == streamID
	})
	delete(e.streams, streamKey{bucketID: bucketID, streamID: streamID})

	e.logInfo(logMsgStreamDeleted, logAttrBucketID, bucketID, logAttrStreamID, streamID)

	return nil
}

// Drop removes everything, like Purge.
func (e *Engine) Drop(ctx context.Context) error {
	return e.Purge(ctx)
}

// Close marks the Engine as closed. It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true

	return nil
}

// IsClosed reports whether Close was called.
func (e *Engine) IsClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.closed
}

// read streams the matching commits with a checkpoint greater than after, one page per lock acquisition.
func (e *Engine) read(
	ctx context.Context,
	after int64,
	match func(eventstore.Commit) bool,
) *eventstore.Sequence[eventstore.Commit] {

	return eventstore.NewSequence(ctx, func(ctx context.Context, yield func(eventstore.Commit) error) error {
		for {
			page, last, err := e.readPage(after, match)
			if err != nil {
				return err
			}

			for _, commit := range page {
				if err = yield(commit); err != nil {
					return err
				}
			}

			if last == after {
				return nil
			}

			after = last
		}
	})
}

// readPage collects up to pageSize matching commits after the given checkpoint and returns
// the checkpoint to continue from. It returns after unchanged when the end was reached.
func (e *Engine) readPage(after int64, match func(eventstore.Commit) bool) ([]eventstore.Commit, int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, after, eventstore.ErrUseAfterClose
	}

	page := make([]eventstore.Commit, 0)
	last := after

	start := sort.Search(len(e.checkpoint), func(i int) bool { return e.checkpoint[i] > after })

	for i := start; i < len(e.commits) && len(page) < e.pageSize; i++ {
		last = e.checkpoint[i]

		if match(e.commits[i]) {
			page = append(page, cloneCommit(e.commits[i]))
		}
	}

	e.logDebug(logMsgPagedRead, logAttrCheckpoint, after, logAttrPageSize, e.pageSize, logAttrRowCount, len(page))

	return page, last, nil
}

func (e *Engine) removeCommits(remove func(eventstore.Commit) bool) {
	commits := make([]eventstore.Commit, 0, len(e.commits))
	checkpoints := make([]int64, 0, len(e.checkpoint))

	for i, commit := range e.commits {
		if remove(commit) {
			continue
		}

		commits = append(commits, commit)
		checkpoints = append(checkpoints, e.checkpoint[i])
	}

	e.commits = commits
	e.checkpoint = checkpoints
}

func (e *Engine) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) logInfo(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func cloneCommit(commit eventstore.Commit) eventstore.Commit {
	commit.Headers = maps.Clone(commit.Headers)
	commit.Events = slices.Clone(commit.Events)

	return commit
}

func failed[T any](err error) *eventstore.Sequence[T] {
	return eventstore.NewSequence(context.Background(), func(context.Context, func(T) error) error {
		return err
	})
}

var _ eventstore.Persistence = (*Engine)(nil)
