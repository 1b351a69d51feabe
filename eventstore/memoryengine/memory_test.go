package memoryengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/eventstore/fixtures"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/observability/testdoubles"
)

func newEngine(t *testing.T, options ...memoryengine.Option) *memoryengine.Engine {
	t.Helper()

	engine, err := memoryengine.NewEngine(options...)
	require.NoError(t, err)

	return engine
}

func Test_NewEngine_WithInvalidPageSizeFails(t *testing.T) {
	// act
	_, err := memoryengine.NewEngine(memoryengine.WithPageSize(0))

	// assert
	assert.ErrorIs(t, err, eventstore.ErrInvalidPageSize)
}

func Test_Commit_PersistsAndReadsBack(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	attempt := fixtures.BuildAttempt(eventstore.DefaultBucket, fixtures.NewStreamID())

	// act
	commit, err := engine.Commit(ctx, attempt)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "1", commit.CheckpointToken)

	commits, err := eventstore.Collect(engine.ReadForward(ctx, attempt.BucketID, attempt.StreamID, 0, eventstore.MaxRevision))
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, attempt.CommitID, commits[0].CommitID)
	assert.Equal(t, attempt.StreamRevision, commits[0].StreamRevision)
	assert.Equal(t, attempt.CommitSequence, commits[0].CommitSequence)
	assert.Equal(t, attempt.Headers, commits[0].Headers)
	assert.Len(t, commits[0].Events, fixtures.EventsPerAttempt)
}

func Test_Commit_InvalidAttemptFails(t *testing.T) {
	// setup
	engine := newEngine(t)
	attempt := fixtures.BuildAttempt(eventstore.DefaultBucket, fixtures.NewStreamID())
	attempt.CommitID = uuid.Nil

	// act
	_, err := engine.Commit(context.Background(), attempt)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrNilCommitID)
}

func Test_Commit_SameRevisionFailsWithConcurrencyConflict(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := testdoubles.NewLogHandlerSpy(false)
	engine := newEngine(t, memoryengine.WithLogger(logHandler.Logger()))
	streamID := fixtures.NewStreamID()

	// arrange
	_, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, streamID)
	require.NoError(t, err)

	// act
	_, err = engine.Commit(ctx, fixtures.BuildAttempt(eventstore.DefaultBucket, streamID))

	// assert
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.True(t, logHandler.HasInfoLogWithMessage("concurrency conflict detected").WithAttribute("commit_sequence").Assert())
}

func Test_Commit_SameSequenceWithOtherRevisionFailsWithConcurrencyConflict(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	streamID := fixtures.NewStreamID()

	// arrange
	first := fixtures.BuildAttempt(eventstore.DefaultBucket, streamID)
	_, err := engine.Commit(ctx, first)
	require.NoError(t, err)

	second := fixtures.BuildAttempt(eventstore.DefaultBucket, streamID)
	second.StreamRevision = first.StreamRevision + 10

	// act
	_, err = engine.Commit(ctx, second)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func Test_Commit_SameCommitTwiceFailsWithDuplicateCommit(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	attempt := fixtures.BuildAttempt(eventstore.DefaultBucket, fixtures.NewStreamID())

	// arrange
	_, err := engine.Commit(ctx, attempt)
	require.NoError(t, err)

	// act
	_, err = engine.Commit(ctx, attempt)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrDuplicateCommit)
}

func Test_Commit_SameStreamIDInAnotherBucketDoesNotConflict(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	streamID := fixtures.NewStreamID()

	// arrange
	_, err := fixtures.CommitSingle(ctx, engine, "tenant-a", streamID)
	require.NoError(t, err)

	// act
	_, err = fixtures.CommitSingle(ctx, engine, "tenant-b", streamID)

	// assert
	assert.NoError(t, err)
}

func Test_ReadForward_ReturnsCommitsStraddlingTheWindow(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	streamID := fixtures.NewStreamID()

	// arrange: revisions 1-2, 3-4, 5-6, 7-8
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, streamID, 4)
	require.NoError(t, err)

	// act
	commits, err := eventstore.Collect(engine.ReadForward(ctx, eventstore.DefaultBucket, streamID, 4, 5))

	// assert
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, 4, commits[0].StreamRevision)
	assert.Equal(t, 6, commits[1].StreamRevision)
}

func Test_ReadFrom_IsResumableFromAnyCheckpoint(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t, memoryengine.WithPageSize(2))

	// arrange
	for range 3 {
		_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 2)
		require.NoError(t, err)
	}

	all, err := eventstore.Collect(engine.ReadFrom(ctx, ""))
	require.NoError(t, err)
	require.Len(t, all, 6)

	// act
	midpoint := all[2].CheckpointToken
	tail, err := eventstore.Collect(engine.ReadFrom(ctx, midpoint))

	// assert
	require.NoError(t, err)
	assert.Equal(t, all[3:], tail)

	for i := 1; i < len(all); i++ {
		previous, _ := engine.ParseCheckpoint(all[i-1].CheckpointToken)
		current, _ := engine.ParseCheckpoint(all[i].CheckpointToken)
		assert.Equal(t, -1, previous.Compare(current))
	}
}

func Test_ReadFrom_InvalidCheckpointFails(t *testing.T) {
	// setup
	engine := newEngine(t)

	// act
	_, err := eventstore.Collect(engine.ReadFrom(context.Background(), "not-a-checkpoint"))

	// assert
	assert.ErrorIs(t, err, eventstore.ErrInvalidCheckpoint)
}

func Test_ReadBucketFrom_OnlyReturnsTheBucket(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t, memoryengine.WithPageSize(1))

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, "tenant-a", fixtures.NewStreamID(), 2)
	require.NoError(t, err)
	_, err = fixtures.CommitMany(ctx, engine, "tenant-b", fixtures.NewStreamID(), 3)
	require.NoError(t, err)

	// act
	commits, err := eventstore.Collect(engine.ReadBucketFrom(ctx, "tenant-b", ""))

	// assert
	require.NoError(t, err)
	require.Len(t, commits, 3)

	for _, commit := range commits {
		assert.Equal(t, "tenant-b", commit.BucketID)
	}
}

func Test_ReadRange_SelectsByCommitStamp(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	now := time.Now().UTC()

	// arrange
	_, err := engine.Commit(ctx, fixtures.BuildAttemptStampedAt(eventstore.DefaultBucket, "yesterday", now.Add(-24*time.Hour)))
	require.NoError(t, err)
	_, err = engine.Commit(ctx, fixtures.BuildAttemptStampedAt(eventstore.DefaultBucket, "now", now))
	require.NoError(t, err)
	_, err = engine.Commit(ctx, fixtures.BuildAttemptStampedAt(eventstore.DefaultBucket, "tomorrow", now.Add(24*time.Hour)))
	require.NoError(t, err)

	// act
	fromNow, errFrom := eventstore.Collect(engine.ReadRange(ctx, eventstore.DefaultBucket, now.Add(-time.Minute), time.Time{}))
	window, errWindow := eventstore.Collect(engine.ReadRange(ctx, eventstore.DefaultBucket, now.Add(-time.Minute), now.Add(time.Minute)))

	// assert
	require.NoError(t, errFrom)
	require.NoError(t, errWindow)
	assert.Len(t, fromNow, 2)
	require.Len(t, window, 1)
	assert.Equal(t, "now", window[0].StreamID)
}

func Test_ReadFrom_ConsumerMayCommitWhileIterating(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t, memoryengine.WithPageSize(1))

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 2)
	require.NoError(t, err)

	// act
	seen := 0
	for range engine.ReadFrom(ctx, "").All() {
		seen++
		if seen == 1 {
			_, err = fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
			require.NoError(t, err)
		}
	}

	// assert
	assert.Equal(t, 3, seen)
}

func Test_GetCheckpoint_EmptyTokenReturnsHead(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 3)
	require.NoError(t, err)

	// act
	head, errHead := engine.GetCheckpoint(ctx, "")
	parsed, errParsed := engine.GetCheckpoint(ctx, "2")

	// assert
	require.NoError(t, errHead)
	require.NoError(t, errParsed)
	assert.Equal(t, "3", head.Value())
	assert.Equal(t, "2", parsed.Value())
}

func Test_GetSnapshot_ReturnsMostRecentPriorSnapshot(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	streamID := fixtures.NewStreamID()

	// arrange: revisions 1-2, 3-4, 5-6
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, streamID, 3)
	require.NoError(t, err)

	for _, revision := range []int{1, 3, 5} {
		added, addErr := engine.AddSnapshot(ctx, eventstore.Snapshot{
			BucketID:       eventstore.DefaultBucket,
			StreamID:       streamID,
			StreamRevision: revision,
			Payload:        revision,
		})
		require.NoError(t, addErr)
		require.True(t, added)
	}

	// act
	snapshot, err := engine.GetSnapshot(ctx, eventstore.DefaultBucket, streamID, 4)

	// assert
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 3, snapshot.StreamRevision)
	assert.Equal(t, 3, snapshot.Payload)
}

func Test_GetSnapshot_WithoutSnapshotReturnsNil(t *testing.T) {
	// setup
	engine := newEngine(t)

	// act
	snapshot, err := engine.GetSnapshot(context.Background(), eventstore.DefaultBucket, fixtures.NewStreamID(), eventstore.MaxRevision)

	// assert
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func Test_AddSnapshot_ForUnknownStreamIsNotAdded(t *testing.T) {
	// setup
	engine := newEngine(t)

	// act
	added, err := engine.AddSnapshot(context.Background(), eventstore.Snapshot{
		BucketID:       eventstore.DefaultBucket,
		StreamID:       fixtures.NewStreamID(),
		StreamRevision: 1,
		Payload:        "state",
	})

	// assert
	require.NoError(t, err)
	assert.False(t, added)
}

func Test_StreamsToSnapshot_HonorsThreshold(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	snapshotted := "a-snapshotted"
	behind := "b-behind"

	// arrange
	commits, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, snapshotted, 2)
	require.NoError(t, err)
	_, err = engine.AddSnapshot(ctx, eventstore.Snapshot{
		BucketID:       eventstore.DefaultBucket,
		StreamID:       snapshotted,
		StreamRevision: commits[1].StreamRevision,
		Payload:        "state",
	})
	require.NoError(t, err)

	_, err = fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, behind, 2)
	require.NoError(t, err)

	// act
	withinThreshold, err := eventstore.Collect(engine.StreamsToSnapshot(ctx, eventstore.DefaultBucket, 1))
	require.NoError(t, err)
	overThreshold, err := eventstore.Collect(engine.StreamsToSnapshot(ctx, eventstore.DefaultBucket, 5))
	require.NoError(t, err)

	// assert
	require.Len(t, withinThreshold, 1)
	assert.Equal(t, behind, withinThreshold[0].StreamID)
	assert.Equal(t, 4, withinThreshold[0].HeadRevision)
	assert.Equal(t, 0, withinThreshold[0].SnapshotRevision)
	assert.Empty(t, overThreshold)
}

func Test_DeleteStream_RemovesOnlyThatStream(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)

	// arrange
	_, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, "deleted")
	require.NoError(t, err)
	_, err = fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, "kept")
	require.NoError(t, err)

	// act
	err = engine.DeleteStream(ctx, eventstore.DefaultBucket, "deleted")

	// assert
	require.NoError(t, err)

	commits, err := eventstore.Collect(engine.ReadFrom(ctx, ""))
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "kept", commits[0].StreamID)

	_, err = fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, "deleted")
	assert.NoError(t, err)
}

func Test_Purge_KeepsCheckpointsIncreasing(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 2)
	require.NoError(t, err)

	// act
	require.NoError(t, engine.Purge(ctx))
	commit, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())

	// assert
	require.NoError(t, err)
	assert.Equal(t, "3", commit.CheckpointToken)
}

func Test_Close_MakesEveryOperationFail(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)

	// act
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	// assert
	assert.True(t, engine.IsClosed())

	_, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	assert.ErrorIs(t, err, eventstore.ErrUseAfterClose)

	_, err = eventstore.Collect(engine.ReadFrom(ctx, ""))
	assert.ErrorIs(t, err, eventstore.ErrUseAfterClose)

	_, err = engine.GetCheckpoint(ctx, "")
	assert.ErrorIs(t, err, eventstore.ErrUseAfterClose)

	assert.ErrorIs(t, engine.Purge(ctx), eventstore.ErrUseAfterClose)
}
