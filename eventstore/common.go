package eventstore

import (
	"errors"
	"math"
)

// DefaultBucket is the bucket used when a caller does not partition its streams.
const DefaultBucket = "default"

// MaxRevision is the open upper bound for revision windows ("read to the end of the stream").
const MaxRevision = math.MaxInt

var (
	// ErrConcurrencyConflict is returned when a commit lost the race for a (bucket, stream, revision/sequence).
	// It is recoverable: re-read the stream and decide again.
	ErrConcurrencyConflict = errors.New("concurrency conflict, the stream has been changed by another writer")

	// ErrDuplicateCommit is returned when a commit id has already been persisted for the stream.
	ErrDuplicateCommit = errors.New("duplicate commit, the commit id was already used for this stream")

	// ErrStreamNotFound is returned when a non-zero starting revision was requested on a stream without commits.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStorageUnavailable is returned when the backend cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageFailure is returned when the backend failed to execute an operation.
	ErrStorageFailure = errors.New("storage failure")

	// ErrUseAfterClose is returned by any operation invoked after the owning component was closed.
	ErrUseAfterClose = errors.New("use after close")

	// ErrNilPersistence is returned when a constructor gets a nil Persistence.
	ErrNilPersistence = errors.New("persistence must not be nil")

	// ErrNilDatabaseConnection is returned when an engine constructor gets a nil database handle.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName is returned when an empty table name is configured.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrInvalidPageSize is returned when a page size is not positive.
	ErrInvalidPageSize = errors.New("page size must be greater than zero")

	// ErrInvalidPollingInterval is returned when a polling interval is not positive.
	ErrInvalidPollingInterval = errors.New("polling interval must be greater than zero")
)
