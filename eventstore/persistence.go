package eventstore

import (
	"context"
	"time"
)

// CommitEvents is the part of a backend an OptimisticEventStream needs: read a stream and append to it.
// Implementations must be safe for concurrent use.
type CommitEvents interface {
	// ReadForward returns the commits of one stream that contain events within [minRevision, maxRevision],
	// ascending by revision. The first and last commit may straddle the window.
	ReadForward(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int) *Sequence[Commit]

	// Commit persists the attempt. It fails with ErrConcurrencyConflict when another commit already
	// took the sequence or revision range, and with ErrDuplicateCommit when the commit id is known.
	Commit(ctx context.Context, attempt CommitAttempt) (Commit, error)
}

// Persistence is the port the event store consumes from a storage backend.
//
// A backend must give linearizable read-after-write per (bucket, stream) and assign checkpoints that
// increase monotonically across all buckets and streams.
type Persistence interface {
	CommitEvents

	// ReadFrom returns all commits strictly after checkpointToken, ascending by checkpoint.
	// An empty token reads from the beginning.
	ReadFrom(ctx context.Context, checkpointToken string) *Sequence[Commit]

	// ReadBucketFrom is ReadFrom restricted to one bucket.
	ReadBucketFrom(ctx context.Context, bucketID, checkpointToken string) *Sequence[Commit]

	// ReadRange returns the commits of a bucket stamped within [start, end), ascending by checkpoint.
	// A zero end means "no upper bound".
	ReadRange(ctx context.Context, bucketID string, start, end time.Time) *Sequence[Commit]

	// ParseCheckpoint turns a token produced by this backend into a Checkpoint.
	ParseCheckpoint(token string) (Checkpoint, error)

	// GetCheckpoint parses token, or returns the latest assigned checkpoint for an empty token.
	GetCheckpoint(ctx context.Context, token string) (Checkpoint, error)

	// AddSnapshot stores a snapshot and reports whether it was stored.
	AddSnapshot(ctx context.Context, snapshot Snapshot) (bool, error)

	// GetSnapshot returns the most recent snapshot at or below maxRevision, or nil when there is none.
	GetSnapshot(ctx context.Context, bucketID, streamID string, maxRevision int) (*Snapshot, error)

	// StreamsToSnapshot returns the heads of all streams in the bucket with at least threshold
	// revisions committed since their latest snapshot.
	StreamsToSnapshot(ctx context.Context, bucketID string, threshold int) *Sequence[StreamHead]

	// Purge removes all commits and snapshots of all buckets.
	Purge(ctx context.Context) error

	// PurgeBucket removes all commits and snapshots of one bucket.
	PurgeBucket(ctx context.Context, bucketID string) error

	// DeleteStream removes all commits and snapshots of one stream.
	DeleteStream(ctx context.Context, bucketID, streamID string) error

	// Drop removes the storage itself (tables, files, ...).
	Drop(ctx context.Context) error

	// Close releases the backend. Every later call fails with ErrUseAfterClose.
	Close() error

	// IsClosed reports whether Close was called.
	IsClosed() bool
}

// PipelineHook observes the commit pipeline of an OptimisticEventStore.
//
// Hooks run in registration order. PreCommit can veto a commit, Select can transform or drop
// commits on every read, the remaining methods are notifications.
type PipelineHook interface {
	// PreCommit returns false to reject the attempt. Later hooks are not invoked.
	PreCommit(ctx context.Context, attempt CommitAttempt) (bool, error)

	// PostCommit is invoked after the commit was persisted.
	PostCommit(ctx context.Context, commit Commit) error

	// Select returns the commit to hand to the reader, a transformed copy of it, or nil to drop it.
	Select(ctx context.Context, commit Commit) (*Commit, error)

	// OnPurge is invoked after a purge. bucketID is empty when all buckets were purged.
	OnPurge(ctx context.Context, bucketID string) error

	// OnDeleteStream is invoked after a stream was deleted.
	OnDeleteStream(ctx context.Context, bucketID, streamID string) error

	// Close releases the hook.
	Close() error
}

// PipelineHookBase is a PipelineHook that accepts everything. Embed it to implement only the methods you need.
type PipelineHookBase struct{}

// PreCommit accepts every attempt.
func (PipelineHookBase) PreCommit(context.Context, CommitAttempt) (bool, error) { return true, nil }

// PostCommit does nothing.
func (PipelineHookBase) PostCommit(context.Context, Commit) error { return nil }

// Select passes the commit through unchanged.
func (PipelineHookBase) Select(_ context.Context, commit Commit) (*Commit, error) { return &commit, nil }

// OnPurge does nothing.
func (PipelineHookBase) OnPurge(context.Context, string) error { return nil }

// OnDeleteStream does nothing.
func (PipelineHookBase) OnDeleteStream(context.Context, string, string) error { return nil }

// Close does nothing.
func (PipelineHookBase) Close() error { return nil }

var _ PipelineHook = PipelineHookBase{}
