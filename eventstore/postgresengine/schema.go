package postgresengine

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	colCheckpointNumber = "checkpoint_number"
	colBucketID         = "bucket_id"
	colStreamID         = "stream_id"
	colStreamRevision   = "stream_revision"
	colItems            = "items"
	colCommitID         = "commit_id"
	colCommitSequence   = "commit_sequence"
	colCommitStamp      = "commit_stamp"
	colHeaders          = "headers"
	colPayload          = "payload"

	maxIDLength = 1000
)

// createSchemaStatements returns the idempotent DDL for the commits and snapshots tables.
func createSchemaStatements(commitsTable, snapshotsTable string) []string {
	commits := pgx.Identifier{commitsTable}.Sanitize()
	snapshots := pgx.Identifier{snapshotsTable}.Sanitize()

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	checkpoint_number BIGSERIAL PRIMARY KEY,
	bucket_id TEXT NOT NULL CHECK (char_length(bucket_id) BETWEEN 1 AND %[2]d),
	stream_id TEXT NOT NULL CHECK (char_length(stream_id) BETWEEN 1 AND %[2]d),
	stream_revision BIGINT NOT NULL CHECK (stream_revision > 0),
	items INT NOT NULL CHECK (items > 0),
	commit_id UUID NOT NULL,
	commit_sequence BIGINT NOT NULL CHECK (commit_sequence > 0),
	commit_stamp TIMESTAMPTZ NOT NULL,
	headers JSONB NOT NULL,
	payload JSONB NOT NULL,
	UNIQUE (bucket_id, stream_id, commit_sequence),
	UNIQUE (bucket_id, stream_id, commit_id)
)`, commits, maxIDLength),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (bucket_id, stream_id, stream_revision)`,
			pgx.Identifier{commitsTable + "_revision_idx"}.Sanitize(), commits),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (bucket_id, checkpoint_number)`,
			pgx.Identifier{commitsTable + "_bucket_checkpoint_idx"}.Sanitize(), commits),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (bucket_id, commit_stamp)`,
			pgx.Identifier{commitsTable + "_stamp_idx"}.Sanitize(), commits),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	bucket_id TEXT NOT NULL,
	stream_id TEXT NOT NULL,
	stream_revision BIGINT NOT NULL CHECK (stream_revision > 0),
	payload JSONB NOT NULL,
	PRIMARY KEY (bucket_id, stream_id, stream_revision)
)`, snapshots),
	}
}

func dropSchemaStatement(commitsTable, snapshotsTable string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s, %s",
		pgx.Identifier{commitsTable}.Sanitize(),
		pgx.Identifier{snapshotsTable}.Sanitize(),
	)
}
