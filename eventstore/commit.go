package eventstore

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyBucketID is returned when a commit attempt has no bucket id.
	ErrEmptyBucketID = errors.New("bucket id must not be empty")

	// ErrEmptyStreamID is returned when a commit attempt has no stream id.
	ErrEmptyStreamID = errors.New("stream id must not be empty")

	// ErrNilCommitID is returned when a commit attempt carries the nil UUID.
	ErrNilCommitID = errors.New("commit id must not be the nil uuid")

	// ErrInvalidCommitSequence is returned when the commit sequence is not positive.
	ErrInvalidCommitSequence = errors.New("commit sequence must be greater than zero")

	// ErrInvalidStreamRevision is returned when the stream revision is lower than the number of events.
	ErrInvalidStreamRevision = errors.New("stream revision must not be lower than the number of events")

	// ErrNoEvents is returned when a commit attempt carries no events.
	ErrNoEvents = errors.New("commit attempt must contain at least one event")
)

// Headers carries metadata for events and commits.
type Headers = map[string]any

// EventMessage is a single event with its own headers. The body is opaque for the event store.
type EventMessage struct {
	Body    any
	Headers Headers
}

// IsEmpty reports whether the message carries no body.
func (m EventMessage) IsEmpty() bool {
	return m.Body == nil
}

// CommitAttempt is the input to Persistence.Commit, built by OptimisticEventStream.
//
// StreamRevision is the revision of the last event after this attempt is applied,
// CommitSequence is the 1-based position of the commit within its stream.
type CommitAttempt struct {
	BucketID       string
	StreamID       string
	StreamRevision int
	CommitID       uuid.UUID
	CommitSequence int
	CommitStamp    time.Time
	Headers        Headers
	Events         []EventMessage
}

// Validate checks the structural invariants of a CommitAttempt.
func (a CommitAttempt) Validate() error {
	if a.BucketID == "" {
		return ErrEmptyBucketID
	}

	if a.StreamID == "" {
		return ErrEmptyStreamID
	}

	if a.CommitID == uuid.Nil {
		return ErrNilCommitID
	}

	if a.CommitSequence <= 0 {
		return ErrInvalidCommitSequence
	}

	if len(a.Events) == 0 {
		return ErrNoEvents
	}

	if a.StreamRevision < len(a.Events) {
		return ErrInvalidStreamRevision
	}

	return nil
}

// FirstRevision returns the revision of the first event in the attempt.
func (a CommitAttempt) FirstRevision() int {
	return a.StreamRevision - len(a.Events) + 1
}

// ToCommit turns the attempt into the persisted form with the checkpoint assigned by the backend.
func (a CommitAttempt) ToCommit(checkpointToken string) Commit {
	return Commit{
		BucketID:        a.BucketID,
		StreamID:        a.StreamID,
		StreamRevision:  a.StreamRevision,
		CommitID:        a.CommitID,
		CommitSequence:  a.CommitSequence,
		CommitStamp:     a.CommitStamp,
		Headers:         maps.Clone(a.Headers),
		Events:          slices.Clone(a.Events),
		CheckpointToken: checkpointToken,
	}
}

// Commit is a persisted CommitAttempt read back from a backend.
// It is never mutated after creation; pipeline hooks that transform commits return a new value.
type Commit struct {
	BucketID        string
	StreamID        string
	StreamRevision  int
	CommitID        uuid.UUID
	CommitSequence  int
	CommitStamp     time.Time
	Headers         Headers
	Events          []EventMessage
	CheckpointToken string
}

// FirstRevision returns the revision of the first event in the commit.
func (c Commit) FirstRevision() int {
	return c.StreamRevision - len(c.Events) + 1
}

// StreamHead describes how far a stream's head is ahead of its latest snapshot.
type StreamHead struct {
	BucketID         string
	StreamID         string
	HeadRevision     int
	SnapshotRevision int
}

// UnsnapshottedRevisions returns how many revisions were committed since the latest snapshot.
func (h StreamHead) UnsnapshottedRevisions() int {
	return h.HeadRevision - h.SnapshotRevision
}
