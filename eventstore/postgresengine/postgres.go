package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/postgresengine/internal/adapters"
)

const (
	defaultCommitsTableName   = "commits"
	defaultSnapshotsTableName = "snapshots"
	defaultPageSize           = 512

	logMsgBuildQueryFailed    = "failed to build query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgEncodeFailed        = "failed to encode commit"
	logMsgDecodeFailed        = "failed to decode commit from database row"
	logMsgCommitAppended      = "commit appended"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgDuplicateCommit     = "duplicate commit detected"
	logMsgPageRead            = "read page of commits"
	logMsgSnapshotAdded       = "snapshot added"
	logMsgSnapshotSkipped     = "snapshot skipped, the stream has no commits"
	logMsgPurged              = "purged commits and snapshots"
	logMsgStreamDeleted       = "stream deleted"
	logMsgSchemaCreated       = "schema created"
	logMsgSchemaDropped       = "schema dropped"
	logMsgSQLExecuted         = "executed sql for: "
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrBucketID           = "bucket_id"
	logAttrStreamID           = "stream_id"
	logAttrCommitID           = "commit_id"
	logAttrCommitSequence     = "commit_sequence"
	logAttrStreamRevision     = "stream_revision"
	logAttrCheckpoint         = "checkpoint"
	logAttrEventCount         = "event_count"
	logAttrRowCount           = "row_count"
	logAttrDurationMS         = "duration_ms"
)

// Engine is a PostgreSQL eventstore.Persistence.
//
// Commits live in one table with a BIGSERIAL checkpoint. A commit is inserted by a single guarded
// statement that only succeeds when it continues the stream's head revision and commit sequence;
// unique constraints on (bucket, stream, commit_sequence) and (bucket, stream, commit_id) close the
// remaining race between concurrent writers. Reads are paged by checkpoint.
//
// The Engine does not own the database handle: Close marks the Engine as closed, closing the pool
// stays with the caller.
type Engine struct {
	db                 adapters.DBAdapter
	commitsTableName   string
	snapshotsTableName string
	pageSize           int
	logger             eventstore.Logger
	contextualLogger   eventstore.ContextualLogger
	metricsCollector   eventstore.MetricsCollector
	tracingCollector   eventstore.TracingCollector
	closed             atomic.Bool
}

// NewEngineFromPGXPool creates a new Engine using a pgx Pool with optional configuration.
func NewEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), options...)
}

// NewEngineFromPGXPoolWithReplica creates a new Engine that serves eventually consistent reads from replica.
func NewEngineFromPGXPoolWithReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*Engine, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewEngineFromSQLDB creates a new Engine using a sql.DB with optional configuration.
func NewEngineFromSQLDB(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), options...)
}

// NewEngineFromSQLDBWithReplica creates a new Engine that serves eventually consistent reads from replica.
func NewEngineFromSQLDBWithReplica(db *sql.DB, replica *sql.DB, options ...Option) (*Engine, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapterWithReplica(db, replica), options...)
}

// NewEngineFromSQLX creates a new Engine using a sqlx.DB with optional configuration.
func NewEngineFromSQLX(db *sqlx.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), options...)
}

// NewEngineFromSQLXWithReplica creates a new Engine that serves eventually consistent reads from replica.
func NewEngineFromSQLXWithReplica(db *sqlx.DB, replica *sqlx.DB, options ...Option) (*Engine, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapterWithReplica(db, replica), options...)
}

func newEngine(db adapters.DBAdapter, options ...Option) (*Engine, error) {
	e := &Engine{
		db:                 db,
		commitsTableName:   defaultCommitsTableName,
		snapshotsTableName: defaultSnapshotsTableName,
		pageSize:           defaultPageSize,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// CreateSchema creates the commits and snapshots tables and their indexes if they do not exist.
func (e *Engine) CreateSchema(ctx context.Context) error {
	if e.closed.Load() {
		return eventstore.ErrUseAfterClose
	}

	for _, statement := range createSchemaStatements(e.commitsTableName, e.snapshotsTableName) {
		if _, err := e.exec(ctx, operationSchema, statement); err != nil {
			return err
		}
	}

	e.logInfo(ctx, logMsgSchemaCreated)

	return nil
}

// Ping checks that the primary database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.db.Ping(ctx); err != nil {
		return errors.Join(eventstore.ErrStorageUnavailable, err)
	}

	return nil
}

// Commit persists the attempt with a single guarded insert.
//
// When the insert is rejected, either by the guard or by a unique constraint, the engine checks
// whether the commit id is already stored for the stream: then the attempt is a duplicate,
// otherwise it lost against another writer.
func (e *Engine) Commit(ctx context.Context, attempt eventstore.CommitAttempt) (eventstore.Commit, error) {
	if err := attempt.Validate(); err != nil {
		return eventstore.Commit{}, err
	}

	if e.closed.Load() {
		return eventstore.Commit{}, eventstore.ErrUseAfterClose
	}

	observer, ctx := e.startOperation(ctx, operationCommit, spanNameCommit, metricCommitDuration, map[string]string{
		spanAttrBucketID:       attempt.BucketID,
		spanAttrStreamID:       attempt.StreamID,
		spanAttrCommitSequence: strconv.Itoa(attempt.CommitSequence),
		spanAttrStreamRevision: strconv.Itoa(attempt.StreamRevision),
		spanAttrEventCount:     strconv.Itoa(len(attempt.Events)),
	})

	sqlQuery, err := e.buildCommit(ctx, attempt)
	if err != nil {
		observer.finishError(errorTypeEncode)
		return eventstore.Commit{}, err
	}

	var checkpoint int64

	found, err := e.queryOne(ctx, operationCommit, sqlQuery, true, &checkpoint)

	switch {
	case err != nil && adapters.IsUniqueViolation(err):
		found = false
	case err != nil:
		observer.finishError(e.errorType(err))
		return eventstore.Commit{}, err
	}

	if !found {
		rejection, err := e.classifyRejectedCommit(ctx, attempt)
		if rejection == "" {
			observer.finishError(e.errorType(err))
		} else {
			observer.finishRejected(rejection)
		}

		return eventstore.Commit{}, err
	}

	commit := attempt.ToCommit(eventstore.LongCheckpoint(checkpoint).Value())

	e.logInfo(ctx, logMsgCommitAppended,
		logAttrBucketID, commit.BucketID,
		logAttrStreamID, commit.StreamID,
		logAttrCommitID, commit.CommitID.String(),
		logAttrCheckpoint, commit.CheckpointToken,
		logAttrEventCount, len(commit.Events),
		logAttrDurationMS, toMilliseconds(observer.elapsed()),
	)

	e.recordValue(ctx, metricEventsCommitted, float64(len(commit.Events)), observer.labels(statusSuccess))
	observer.finishSuccess(map[string]string{spanAttrCheckpoint: commit.CheckpointToken})

	return commit, nil
}

func (e *Engine) buildCommit(ctx context.Context, attempt eventstore.CommitAttempt) (sqlQueryString, error) {
	headersJSON, err := encodeHeaders(attempt.Headers)
	if err != nil {
		e.logError(ctx, logMsgEncodeFailed, err, logAttrCommitID, attempt.CommitID.String())
		return "", err
	}

	eventsJSON, err := encodeEvents(attempt.Events)
	if err != nil {
		e.logError(ctx, logMsgEncodeFailed, err, logAttrCommitID, attempt.CommitID.String())
		return "", err
	}

	sqlQuery, err := e.buildCommitQuery(attempt, headersJSON, eventsJSON)
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err, logAttrCommitID, attempt.CommitID.String())
		return "", err
	}

	return sqlQuery, nil
}

// classifyRejectedCommit returns the rejection type of a rejected attempt together with the error
// to surface. The type is empty when the classification itself failed.
func (e *Engine) classifyRejectedCommit(ctx context.Context, attempt eventstore.CommitAttempt) (string, error) {
	sqlQuery, err := e.buildCommitIDExistsQuery(attempt.BucketID, attempt.StreamID, attempt.CommitID)
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		return "", err
	}

	var one int

	exists, err := e.queryOne(ctx, operationCommit, sqlQuery, true, &one)
	if err != nil {
		return "", err
	}

	if exists {
		e.logInfo(ctx, logMsgDuplicateCommit,
			logAttrBucketID, attempt.BucketID,
			logAttrStreamID, attempt.StreamID,
			logAttrCommitID, attempt.CommitID.String(),
		)

		return errorTypeDuplicate, eventstore.ErrDuplicateCommit
	}

	e.logInfo(ctx, logMsgConcurrencyConflict,
		logAttrBucketID, attempt.BucketID,
		logAttrStreamID, attempt.StreamID,
		logAttrCommitSequence, attempt.CommitSequence,
		logAttrStreamRevision, attempt.StreamRevision,
	)

	return errorTypeConflict, eventstore.ErrConcurrencyConflict
}

// ReadForward returns the commits of one stream containing events within [minRevision, maxRevision].
func (e *Engine) ReadForward(
	ctx context.Context,
	bucketID string,
	streamID string,
	minRevision int,
	maxRevision int,
) *eventstore.Sequence[eventstore.Commit] {

	return e.read(ctx, 0, forwardConditions(bucketID, streamID, minRevision, maxRevision))
}

// ReadFrom returns all commits strictly after checkpointToken.
func (e *Engine) ReadFrom(ctx context.Context, checkpointToken string) *eventstore.Sequence[eventstore.Commit] {
	after, err := eventstore.ParseLongCheckpoint(checkpointToken)
	if err != nil {
		return failed[eventstore.Commit](err)
	}

	return e.read(ctx, int64(after), nil)
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

	return e.read(ctx, int64(after), bucketConditions(bucketID))
}

// ReadRange returns the commits of one bucket stamped within [start, end). A zero end is unbounded.
func (e *Engine) ReadRange(
	ctx context.Context,
	bucketID string,
	start time.Time,
	end time.Time,
) *eventstore.Sequence[eventstore.Commit] {

	return e.read(ctx, 0, rangeConditions(bucketID, start, end))
}

// ParseCheckpoint parses a token into an eventstore.LongCheckpoint.
func (e *Engine) ParseCheckpoint(token string) (eventstore.Checkpoint, error) {
	return eventstore.ParseLongCheckpoint(token)
}

// GetCheckpoint parses token, or returns the latest assigned checkpoint when token is empty.
func (e *Engine) GetCheckpoint(ctx context.Context, token string) (eventstore.Checkpoint, error) {
	if token != "" {
		return e.ParseCheckpoint(token)
	}

	if e.closed.Load() {
		return nil, eventstore.ErrUseAfterClose
	}

	sqlQuery, err := e.buildHeadCheckpointQuery()
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		return nil, err
	}

	var head int64
	if _, err = e.queryOne(ctx, operationRead, sqlQuery, true, &head); err != nil {
		return nil, err
	}

	return eventstore.LongCheckpoint(head), nil
}

// AddSnapshot upserts the snapshot. It returns false when the stream has no commits.
func (e *Engine) AddSnapshot(ctx context.Context, snapshot eventstore.Snapshot) (bool, error) {
	if err := snapshot.Validate(); err != nil {
		return false, err
	}

	if e.closed.Load() {
		return false, eventstore.ErrUseAfterClose
	}

	observer, ctx := e.startOperation(ctx, operationAddSnapshot, spanNameAddSnapshot, metricSnapshotDuration, map[string]string{
		spanAttrBucketID:       snapshot.BucketID,
		spanAttrStreamID:       snapshot.StreamID,
		spanAttrStreamRevision: strconv.Itoa(snapshot.StreamRevision),
	})

	payloadJSON, err := encodeSnapshotPayload(snapshot.Payload)
	if err != nil {
		e.logError(ctx, logMsgEncodeFailed, err, logAttrStreamID, snapshot.StreamID)
		observer.finishError(errorTypeEncode)

		return false, err
	}

	sqlQuery, err := e.buildAddSnapshotQuery(snapshot, payloadJSON)
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		observer.finishError(errorTypeBuildQuery)

		return false, err
	}

	rowsAffected, err := e.exec(ctx, operationAddSnapshot, sqlQuery)
	if err != nil {
		observer.finishError(e.errorType(err))
		return false, errors.Join(eventstore.ErrSavingSnapshotFailed, err)
	}

	if rowsAffected == 0 {
		e.logDebug(ctx, logMsgSnapshotSkipped, logAttrBucketID, snapshot.BucketID, logAttrStreamID, snapshot.StreamID)
		observer.finishSuccess(nil)

		return false, nil
	}

	e.logDebug(ctx, logMsgSnapshotAdded,
		logAttrBucketID, snapshot.BucketID,
		logAttrStreamID, snapshot.StreamID,
		logAttrStreamRevision, snapshot.StreamRevision,
	)
	observer.finishSuccess(nil)

	return true, nil
}

// GetSnapshot returns the most recent snapshot at or below maxRevision, or nil.
// The payload is returned as jsoniter.RawMessage.
func (e *Engine) GetSnapshot(ctx context.Context, bucketID, streamID string, maxRevision int) (*eventstore.Snapshot, error) {
	if e.closed.Load() {
		return nil, eventstore.ErrUseAfterClose
	}

	observer, ctx := e.startOperation(ctx, operationGetSnapshot, spanNameGetSnapshot, metricSnapshotDuration, map[string]string{
		spanAttrBucketID: bucketID,
		spanAttrStreamID: streamID,
	})

	sqlQuery, err := e.buildGetSnapshotQuery(bucketID, streamID, maxRevision)
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		observer.finishError(errorTypeBuildQuery)

		return nil, err
	}

	var revision int
	var payload string

	found, err := e.queryOne(ctx, operationGetSnapshot, sqlQuery, false, &revision, &payload)
	if err != nil {
		observer.finishError(e.errorType(err))
		return nil, errors.Join(eventstore.ErrLoadingSnapshotFailed, err)
	}

	observer.finishSuccess(nil)

	if !found {
		return nil, nil
	}

	return &eventstore.Snapshot{
		BucketID:       bucketID,
		StreamID:       streamID,
		StreamRevision: revision,
		Payload:        jsoniter.RawMessage(payload),
	}, nil
}

// StreamsToSnapshot returns the heads of all streams in the bucket with at least threshold
// revisions since their latest snapshot, ordered by stream id.
func (e *Engine) StreamsToSnapshot(
	ctx context.Context,
	bucketID string,
	threshold int,
) *eventstore.Sequence[eventstore.StreamHead] {

	if e.closed.Load() {
		return failed[eventstore.StreamHead](eventstore.ErrUseAfterClose)
	}

	return eventstore.NewSequence(ctx, func(ctx context.Context, yield func(eventstore.StreamHead) error) error {
		after := ""

		for {
			page, err := e.readStreamHeadsPage(ctx, bucketID, threshold, after)
			if err != nil {
				return err
			}

			for _, head := range page {
				if err = yield(head); err != nil {
					return err
				}
			}

			if len(page) < e.pageSize {
				return nil
			}

			after = page[len(page)-1].StreamID
		}
	})
}

func (e *Engine) readStreamHeadsPage(
	ctx context.Context,
	bucketID string,
	threshold int,
	afterStreamID string,
) ([]eventstore.StreamHead, error) {

	sqlQuery, err := e.buildStreamsToSnapshotQuery(bucketID, threshold, afterStreamID)
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		return nil, err
	}

	rows, err := e.query(ctx, operationRead, sqlQuery, false)
	if err != nil {
		return nil, err
	}
	defer e.closeRows(ctx, rows)

	heads := make([]eventstore.StreamHead, 0)

	for rows.Next() {
		head := eventstore.StreamHead{BucketID: bucketID}

		if err = rows.Scan(&head.StreamID, &head.HeadRevision, &head.SnapshotRevision); err != nil {
			e.logError(ctx, logMsgScanRowFailed, err)
			return nil, errors.Join(eventstore.ErrStorageFailure, err)
		}

		heads = append(heads, head)
	}

	if err = rows.Err(); err != nil {
		return nil, e.storageError(ctx, logMsgDBQueryFailed, err, sqlQuery)
	}

	return heads, nil
}

// Purge removes all commits and snapshots. Checkpoints keep increasing afterward.
func (e *Engine) Purge(ctx context.Context) error {
	if e.closed.Load() {
		return eventstore.ErrUseAfterClose
	}

	sqlQuery, err := e.buildPurgeQuery()
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		return err
	}

	if err = e.maintain(ctx, operationPurge, sqlQuery); err != nil {
		return err
	}

	e.logInfo(ctx, logMsgPurged)

	return nil
}

// PurgeBucket removes all commits and snapshots of one bucket.
func (e *Engine) PurgeBucket(ctx context.Context, bucketID string) error {
	if e.closed.Load() {
		return eventstore.ErrUseAfterClose
	}

	sqlQueries, err := e.buildDeleteQueries(exp.Ex{colBucketID: bucketID})
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		return err
	}

	if err = e.maintain(ctx, operationPurge, sqlQueries...); err != nil {
		return err
	}

	e.logInfo(ctx, logMsgPurged, logAttrBucketID, bucketID)

	return nil
}

// DeleteStream removes all commits and snapshots of one stream.
func (e *Engine) DeleteStream(ctx context.Context, bucketID, streamID string) error {
	if e.closed.Load() {
		return eventstore.ErrUseAfterClose
	}

	sqlQueries, err := e.buildDeleteQueries(streamWhere(bucketID, streamID))
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		return err
	}

	if err = e.maintain(ctx, operationDelete, sqlQueries...); err != nil {
		return err
	}

	e.logInfo(ctx, logMsgStreamDeleted, logAttrBucketID, bucketID, logAttrStreamID, streamID)

	return nil
}

// Drop removes the commits and snapshots tables.
func (e *Engine) Drop(ctx context.Context) error {
	if e.closed.Load() {
		return eventstore.ErrUseAfterClose
	}

	if err := e.maintain(ctx, operationSchema, dropSchemaStatement(e.commitsTableName, e.snapshotsTableName)); err != nil {
		return err
	}

	e.logInfo(ctx, logMsgSchemaDropped)

	return nil
}

// Close marks the Engine as closed. It is idempotent and leaves the database handle open.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// IsClosed reports whether Close was called.
func (e *Engine) IsClosed() bool {
	return e.closed.Load()
}

// read streams the matching commits after the given checkpoint, one page per query.
// Each page is fully fetched and its rows are closed before the first commit of it is yielded.
func (e *Engine) read(
	ctx context.Context,
	after int64,
	conditions []exp.Expression,
) *eventstore.Sequence[eventstore.Commit] {

	if e.closed.Load() {
		return failed[eventstore.Commit](eventstore.ErrUseAfterClose)
	}

	return eventstore.NewSequence(ctx, func(ctx context.Context, yield func(eventstore.Commit) error) error {
		for {
			if e.closed.Load() {
				return eventstore.ErrUseAfterClose
			}

			page, last, err := e.readPage(ctx, after, conditions)
			if err != nil {
				return err
			}

			for _, commit := range page {
				if err = yield(commit); err != nil {
					return err
				}
			}

			if len(page) < e.pageSize {
				return nil
			}

			after = last
		}
	})
}

func (e *Engine) readPage(
	ctx context.Context,
	after int64,
	conditions []exp.Expression,
) ([]eventstore.Commit, int64, error) {

	observer, ctx := e.startOperation(ctx, operationRead, spanNameRead, metricReadDuration, map[string]string{
		spanAttrCheckpoint: strconv.FormatInt(after, 10),
	})

	sqlQuery, err := e.buildReadPageQuery(after, conditions)
	if err != nil {
		e.logError(ctx, logMsgBuildQueryFailed, err)
		observer.finishError(errorTypeBuildQuery)

		return nil, after, err
	}

	rows, err := e.query(ctx, operationRead, sqlQuery, false)
	if err != nil {
		observer.finishError(e.errorType(err))
		return nil, after, err
	}
	defer e.closeRows(ctx, rows)

	page := make([]eventstore.Commit, 0)
	last := after

	for rows.Next() {
		commit, checkpoint, scanErr := e.scanCommit(ctx, rows)
		if scanErr != nil {
			observer.finishError(errorTypeScan)
			return nil, after, scanErr
		}

		page = append(page, commit)
		last = checkpoint
	}

	if err = rows.Err(); err != nil {
		err = e.storageError(ctx, logMsgDBQueryFailed, err, sqlQuery)
		observer.finishError(e.errorType(err))

		return nil, after, err
	}

	e.logDebug(ctx, logMsgPageRead,
		logAttrCheckpoint, after,
		logAttrRowCount, len(page),
		logAttrDurationMS, toMilliseconds(observer.elapsed()),
	)

	e.recordValue(ctx, metricCommitsRead, float64(len(page)), observer.labels(statusSuccess))
	observer.finishSuccess(map[string]string{spanAttrCommitCount: strconv.Itoa(len(page))})

	return page, last, nil
}

func (e *Engine) scanCommit(ctx context.Context, rows adapters.DBRows) (eventstore.Commit, int64, error) {
	var (
		checkpoint int64
		items      int
		commitID   string
		headers    string
		payload    string
		commit     eventstore.Commit
	)

	err := rows.Scan(
		&checkpoint,
		&commit.BucketID,
		&commit.StreamID,
		&commit.StreamRevision,
		&items,
		&commitID,
		&commit.CommitSequence,
		&commit.CommitStamp,
		&headers,
		&payload,
	)
	if err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return eventstore.Commit{}, 0, errors.Join(eventstore.ErrStorageFailure, err)
	}

	if commit.CommitID, err = uuid.Parse(commitID); err != nil {
		e.logError(ctx, logMsgDecodeFailed, err, logAttrCheckpoint, checkpoint)
		return eventstore.Commit{}, 0, errors.Join(ErrDecodingCommitFailed, err)
	}

	if commit.Headers, err = decodeHeaders([]byte(headers)); err != nil {
		e.logError(ctx, logMsgDecodeFailed, err, logAttrCheckpoint, checkpoint)
		return eventstore.Commit{}, 0, err
	}

	if commit.Events, err = decodeEvents([]byte(payload)); err != nil {
		e.logError(ctx, logMsgDecodeFailed, err, logAttrCheckpoint, checkpoint)
		return eventstore.Commit{}, 0, err
	}

	if len(commit.Events) != items {
		err = errors.Join(ErrDecodingCommitFailed, errors.New("event count does not match the items column"))
		e.logError(ctx, logMsgDecodeFailed, err, logAttrCheckpoint, checkpoint)

		return eventstore.Commit{}, 0, err
	}

	commit.CommitStamp = commit.CommitStamp.UTC()
	commit.CheckpointToken = eventstore.LongCheckpoint(checkpoint).Value()

	return commit, checkpoint, nil
}

// queryOne runs a query expected to return at most one row and scans it into dest.
func (e *Engine) queryOne(ctx context.Context, operation string, sqlQuery string, primary bool, dest ...any) (bool, error) {
	rows, err := e.query(ctx, operation, sqlQuery, primary)
	if err != nil {
		return false, err
	}
	defer e.closeRows(ctx, rows)

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return false, e.storageError(ctx, logMsgDBQueryFailed, err, sqlQuery)
		}

		return false, nil
	}

	if err = rows.Scan(dest...); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return false, errors.Join(eventstore.ErrStorageFailure, err)
	}

	return true, nil
}

func (e *Engine) query(ctx context.Context, operation string, sqlQuery string, primary bool) (adapters.DBRows, error) {
	start := time.Now()

	var rows adapters.DBRows
	var err error

	if primary {
		rows, err = e.db.QueryPrimary(ctx, sqlQuery)
	} else {
		rows, err = e.db.Query(ctx, sqlQuery)
	}

	e.logSQL(ctx, sqlQuery, operation, time.Since(start))

	if err != nil {
		return nil, e.storageError(ctx, logMsgDBQueryFailed, err, sqlQuery)
	}

	return rows, nil
}

func (e *Engine) exec(ctx context.Context, operation string, sqlQuery string) (int64, error) {
	start := time.Now()
	result, err := e.db.Exec(ctx, sqlQuery)
	e.logSQL(ctx, sqlQuery, operation, time.Since(start))

	if err != nil {
		return 0, e.storageError(ctx, logMsgDBExecFailed, err, sqlQuery)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, e.storageError(ctx, logMsgDBExecFailed, err, sqlQuery)
	}

	return rowsAffected, nil
}

// maintain runs purge, delete and drop statements in order, with one span for all of them.
func (e *Engine) maintain(ctx context.Context, operation string, sqlQueries ...sqlQueryString) error {
	observer, ctx := e.startOperation(ctx, operation, spanNameMaintenance, metricMaintenanceDuration, nil)

	for _, sqlQuery := range sqlQueries {
		if _, err := e.exec(ctx, operation, sqlQuery); err != nil {
			observer.finishError(e.errorType(err))
			return err
		}
	}

	observer.finishSuccess(nil)

	return nil
}

// storageError logs err and wraps it with ErrStorageUnavailable or ErrStorageFailure.
// A unique violation is passed through unwrapped so Commit can classify it.
func (e *Engine) storageError(ctx context.Context, msg string, err error, sqlQuery string) error {
	if adapters.IsUniqueViolation(err) {
		return err
	}

	e.logError(ctx, msg, err, logAttrQuery, sqlQuery)

	if adapters.IsConnectionFailure(err) {
		return errors.Join(eventstore.ErrStorageUnavailable, err)
	}

	return errors.Join(eventstore.ErrStorageFailure, err)
}

func (e *Engine) errorType(err error) string {
	switch {
	case errors.Is(err, ErrBuildingQueryFailed):
		return errorTypeBuildQuery
	case errors.Is(err, ErrDecodingCommitFailed):
		return errorTypeDecode
	case errors.Is(err, eventstore.ErrStorageUnavailable):
		return errorTypeUnavailable
	default:
		return errorTypeDatabase
	}
}

// closeRows safely closes database rows and logs any errors.
func (e *Engine) closeRows(ctx context.Context, rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		e.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

func failed[T any](err error) *eventstore.Sequence[T] {
	return eventstore.NewSequence(context.Background(), func(context.Context, func(T) error) error {
		return err
	})
}

var _ eventstore.Persistence = (*Engine)(nil)
