package postgresengine

import (
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	dialectPostgres       = "postgres"
	cteHead               = "head"
	aliasMaxRevision      = "max_revision"
	aliasMaxSequence      = "max_sequence"
	aliasHeads            = "h"
	aliasSnapshots        = "s"
	aliasHeadRevision     = "head_revision"
	aliasSnapshotRevision = "snapshot_revision"
	castText              = "TEXT"
	castUUID              = "?::uuid"
	castTimestamp         = "?::timestamptz"
	castJsonb             = "?::jsonb"
)

// ErrBuildingQueryFailed is returned when a SQL statement cannot be built.
var ErrBuildingQueryFailed = errors.New("building query failed")

type sqlQueryString = string

func (e *Engine) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

func toSQL(ds interface{ ToSQL() (string, []any, error) }) (sqlQueryString, error) {
	sqlQuery, _, err := ds.ToSQL()
	if err != nil {
		return "", errors.Join(ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}

func streamWhere(bucketID, streamID string) exp.Ex {
	return goqu.Ex{colBucketID: bucketID, colStreamID: streamID}
}

// buildCommitQuery builds the guarded insert: the row is only inserted when the attempt continues the
// stream's head revision and commit sequence, otherwise no row is returned.
func (e *Engine) buildCommitQuery(
	attempt eventstore.CommitAttempt,
	headersJSON string,
	eventsJSON string,
) (sqlQueryString, error) {

	builder := e.builder()

	headStmt := builder.
		From(e.commitsTableName).
		Select(
			goqu.COALESCE(goqu.MAX(colStreamRevision), 0).As(aliasMaxRevision),
			goqu.COALESCE(goqu.MAX(colCommitSequence), 0).As(aliasMaxSequence),
		).
		Where(streamWhere(attempt.BucketID, attempt.StreamID))

	valuesStmt := builder.
		From(cteHead).
		Select(
			goqu.V(attempt.BucketID),
			goqu.V(attempt.StreamID),
			goqu.V(attempt.StreamRevision),
			goqu.V(len(attempt.Events)),
			goqu.L(castUUID, attempt.CommitID.String()),
			goqu.V(attempt.CommitSequence),
			goqu.L(castTimestamp, attempt.CommitStamp.UTC().Format(time.RFC3339Nano)),
			goqu.L(castJsonb, headersJSON),
			goqu.L(castJsonb, eventsJSON),
		).
		Where(
			goqu.C(aliasMaxRevision).Eq(attempt.FirstRevision()-1),
			goqu.C(aliasMaxSequence).Eq(attempt.CommitSequence-1),
		)

	insertStmt := builder.
		Insert(e.commitsTableName).
		With(cteHead, headStmt).
		Cols(
			colBucketID,
			colStreamID,
			colStreamRevision,
			colItems,
			colCommitID,
			colCommitSequence,
			colCommitStamp,
			colHeaders,
			colPayload,
		).
		FromQuery(valuesStmt).
		Returning(colCheckpointNumber)

	return toSQL(insertStmt)
}

func (e *Engine) buildCommitIDExistsQuery(bucketID, streamID string, commitID uuid.UUID) (sqlQueryString, error) {
	selectStmt := e.builder().
		From(e.commitsTableName).
		Select(goqu.L("1")).
		Where(
			streamWhere(bucketID, streamID),
			goqu.L(colCommitID+" = "+castUUID, commitID.String()),
		).
		Limit(1)

	return toSQL(selectStmt)
}

// buildReadPageQuery selects up to pageSize commits after the given checkpoint that match all conditions.
func (e *Engine) buildReadPageQuery(after int64, conditions []exp.Expression) (sqlQueryString, error) {
	where := append([]exp.Expression{goqu.C(colCheckpointNumber).Gt(after)}, conditions...)

	selectStmt := e.builder().
		From(e.commitsTableName).
		Select(
			colCheckpointNumber,
			colBucketID,
			colStreamID,
			colStreamRevision,
			colItems,
			goqu.Cast(goqu.C(colCommitID), castText).As(colCommitID),
			colCommitSequence,
			colCommitStamp,
			goqu.Cast(goqu.C(colHeaders), castText).As(colHeaders),
			goqu.Cast(goqu.C(colPayload), castText).As(colPayload),
		).
		Where(where...).
		Order(goqu.I(colCheckpointNumber).Asc()).
		Limit(uint(e.pageSize))

	return toSQL(selectStmt)
}

func forwardConditions(bucketID, streamID string, minRevision, maxRevision int) []exp.Expression {
	return []exp.Expression{
		streamWhere(bucketID, streamID),
		goqu.C(colStreamRevision).Gte(minRevision),
		goqu.L("("+colStreamRevision+" - "+colItems+" + 1) <= ?", maxRevision),
	}
}

func bucketConditions(bucketID string) []exp.Expression {
	return []exp.Expression{goqu.C(colBucketID).Eq(bucketID)}
}

func rangeConditions(bucketID string, start, end time.Time) []exp.Expression {
	conditions := []exp.Expression{
		goqu.C(colBucketID).Eq(bucketID),
		goqu.L(colCommitStamp+" >= "+castTimestamp, start.UTC().Format(time.RFC3339Nano)),
	}

	if !end.IsZero() {
		conditions = append(conditions, goqu.L(colCommitStamp+" < "+castTimestamp, end.UTC().Format(time.RFC3339Nano)))
	}

	return conditions
}

// buildHeadCheckpointQuery reads the last value of the checkpoint sequence, which survives purges.
func (e *Engine) buildHeadCheckpointQuery() (sqlQueryString, error) {
	selectStmt := e.builder().
		Select(goqu.COALESCE(
			goqu.L("pg_sequence_last_value(pg_get_serial_sequence(?, ?))", e.commitsTableName, colCheckpointNumber),
			0,
		))

	return toSQL(selectStmt)
}

// buildAddSnapshotQuery upserts the snapshot, but only for a stream that has commits.
func (e *Engine) buildAddSnapshotQuery(snapshot eventstore.Snapshot, payloadJSON string) (sqlQueryString, error) {
	builder := e.builder()

	valuesStmt := builder.
		From(e.commitsTableName).
		Select(
			goqu.V(snapshot.BucketID),
			goqu.V(snapshot.StreamID),
			goqu.V(snapshot.StreamRevision),
			goqu.L(castJsonb, payloadJSON),
		).
		Where(streamWhere(snapshot.BucketID, snapshot.StreamID)).
		Limit(1)

	insertStmt := builder.
		Insert(e.snapshotsTableName).
		Cols(colBucketID, colStreamID, colStreamRevision, colPayload).
		FromQuery(valuesStmt).
		OnConflict(goqu.DoUpdate(
			colBucketID+", "+colStreamID+", "+colStreamRevision,
			goqu.Record{colPayload: goqu.L("EXCLUDED." + colPayload)},
		))

	return toSQL(insertStmt)
}

func (e *Engine) buildGetSnapshotQuery(bucketID, streamID string, maxRevision int) (sqlQueryString, error) {
	selectStmt := e.builder().
		From(e.snapshotsTableName).
		Select(colStreamRevision, goqu.Cast(goqu.C(colPayload), castText).As(colPayload)).
		Where(
			streamWhere(bucketID, streamID),
			goqu.C(colStreamRevision).Lte(maxRevision),
		).
		Order(goqu.I(colStreamRevision).Desc()).
		Limit(1)

	return toSQL(selectStmt)
}

// buildStreamsToSnapshotQuery pages through the stream heads of a bucket by stream id.
func (e *Engine) buildStreamsToSnapshotQuery(bucketID string, threshold int, afterStreamID string) (sqlQueryString, error) {
	builder := e.builder()

	heads := builder.
		From(e.commitsTableName).
		Select(colStreamID, goqu.MAX(colStreamRevision).As(aliasHeadRevision)).
		Where(goqu.C(colBucketID).Eq(bucketID)).
		GroupBy(colStreamID)

	snapshots := builder.
		From(e.snapshotsTableName).
		Select(colStreamID, goqu.MAX(colStreamRevision).As(aliasSnapshotRevision)).
		Where(goqu.C(colBucketID).Eq(bucketID)).
		GroupBy(colStreamID)

	snapshotRevision := goqu.COALESCE(goqu.T(aliasSnapshots).Col(aliasSnapshotRevision), 0)

	selectStmt := builder.
		From(heads.As(aliasHeads)).
		LeftJoin(
			snapshots.As(aliasSnapshots),
			goqu.On(goqu.T(aliasHeads).Col(colStreamID).Eq(goqu.T(aliasSnapshots).Col(colStreamID))),
		).
		Select(
			goqu.T(aliasHeads).Col(colStreamID),
			goqu.T(aliasHeads).Col(aliasHeadRevision),
			snapshotRevision,
		).
		Where(
			goqu.T(aliasHeads).Col(colStreamID).Gt(afterStreamID),
			goqu.L("? - ? >= ?", goqu.T(aliasHeads).Col(aliasHeadRevision), snapshotRevision, threshold),
		).
		Order(goqu.T(aliasHeads).Col(colStreamID).Asc()).
		Limit(uint(e.pageSize))

	return toSQL(selectStmt)
}

func (e *Engine) buildPurgeQuery() (sqlQueryString, error) {
	return toSQL(e.builder().Truncate(e.commitsTableName, e.snapshotsTableName))
}

// buildDeleteQueries deletes the snapshots first, then the commits.
func (e *Engine) buildDeleteQueries(where exp.Ex) ([]sqlQueryString, error) {
	builder := e.builder()

	deleteSnapshots, err := toSQL(builder.Delete(e.snapshotsTableName).Where(where))
	if err != nil {
		return nil, err
	}

	deleteCommits, err := toSQL(builder.Delete(e.commitsTableName).Where(where))
	if err != nil {
		return nil, err
	}

	return []sqlQueryString{deleteSnapshots, deleteCommits}, nil
}
