package eventstore

import (
	"errors"
)

var (
	// ErrInvalidSnapshot is returned when a snapshot misses its identity or has no positive revision.
	ErrInvalidSnapshot = errors.New("snapshot is not valid")

	// ErrSnapshotStreamMismatch is returned when a snapshot is used to open a different stream.
	ErrSnapshotStreamMismatch = errors.New("snapshot does not belong to the stream")

	// ErrSavingSnapshotFailed is returned when the snapshot save operation fails.
	ErrSavingSnapshotFailed = errors.New("saving snapshot failed")

	// ErrLoadingSnapshotFailed is returned when the snapshot load operation fails.
	ErrLoadingSnapshotFailed = errors.New("loading snapshot failed")
)

// Snapshot is the serialized state of an aggregate at StreamRevision.
// An OptimisticEventStream opened from a Snapshot replays only the events after that revision.
type Snapshot struct {
	BucketID       string
	StreamID       string
	StreamRevision int
	Payload        any
}

// Validate ensures the snapshot has valid data for storage operations.
func (s Snapshot) Validate() error {
	if s.BucketID == "" {
		return errors.Join(ErrInvalidSnapshot, ErrEmptyBucketID)
	}

	if s.StreamID == "" {
		return errors.Join(ErrInvalidSnapshot, ErrEmptyStreamID)
	}

	if s.StreamRevision <= 0 {
		return errors.Join(ErrInvalidSnapshot, ErrInvalidStreamRevision)
	}

	if s.Payload == nil {
		return ErrInvalidSnapshot
	}

	return nil
}

// BuildSnapshot creates a new Snapshot with validation.
func BuildSnapshot(bucketID string, streamID string, streamRevision int, payload any) (Snapshot, error) {
	snapshot := Snapshot{
		BucketID:       bucketID,
		StreamID:       streamID,
		StreamRevision: streamRevision,
		Payload:        payload,
	}

	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}
