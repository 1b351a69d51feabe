package eventstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/eventstore/fixtures"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/observability/testdoubles"
)

func newStore(t *testing.T, options ...eventstore.Option) (*eventstore.OptimisticEventStore, *memoryengine.Engine) {
	t.Helper()

	engine, err := memoryengine.NewEngine()
	require.NoError(t, err)

	store, err := eventstore.NewOptimisticEventStore(engine, options...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store, engine
}

func commitEvents(t *testing.T, stream *eventstore.OptimisticEventStream, titles ...string) {
	t.Helper()

	for _, title := range titles {
		require.NoError(t, stream.Add(fixtures.SomeEvent(title)))
	}

	require.NoError(t, stream.CommitChanges(context.Background(), uuid.New()))
}

func Test_Stream_CommitSequenceIncreasesByOnePerCommit(t *testing.T) {
	// setup
	ctx := context.Background()
	store, engine := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	commitEvents(t, stream, "one")
	commitEvents(t, stream, "two", "three")
	commitEvents(t, stream, "four")

	// assert
	commits, err := eventstore.Collect(engine.ReadForward(ctx, eventstore.DefaultBucket, stream.StreamID(), 0, eventstore.MaxRevision))
	require.NoError(t, err)
	require.Len(t, commits, 3)

	for i, commit := range commits {
		assert.Equal(t, i+1, commit.CommitSequence)
	}

	assert.Equal(t, []int{1, 3, 4}, []int{commits[0].StreamRevision, commits[1].StreamRevision, commits[2].StreamRevision})
	assert.Equal(t, 3, stream.CommitSequence())
	assert.Equal(t, 4, stream.StreamRevision())
	assert.Len(t, stream.CommittedEvents(), 4)
	assert.Empty(t, stream.UncommittedEvents())
}

func Test_Stream_CommitWithoutChangesIsNoOp(t *testing.T) {
	// setup
	ctx := context.Background()
	store, engine := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	err = stream.CommitChanges(ctx, uuid.New())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 0, stream.CommitSequence())

	checkpoint, err := engine.GetCheckpoint(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "0", checkpoint.Value())
}

func Test_Stream_CommitWithUsedCommitIDFailsWithDuplicateCommit(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)

	commitID := uuid.New()
	require.NoError(t, stream.Add(fixtures.SomeEvent("one")))
	require.NoError(t, stream.CommitChanges(ctx, commitID))
	require.NoError(t, stream.Add(fixtures.SomeEvent("two")))

	// act
	err = stream.CommitChanges(ctx, commitID)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrDuplicateCommit)
	assert.Len(t, stream.UncommittedEvents(), 1)
}

func Test_Stream_CommitWithUsedCommitIDFailsWithDuplicateCommitEvenWithoutChanges(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)

	commitID := uuid.New()
	require.NoError(t, stream.Add(fixtures.SomeEvent("one")))
	require.NoError(t, stream.CommitChanges(ctx, commitID))

	// act
	err = stream.CommitChanges(ctx, commitID)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrDuplicateCommit)
}

func Test_Stream_ConflictRebasesAndKeepsUncommittedEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := testdoubles.NewLogHandlerSpy(false)
	store, _ := newStore(t, eventstore.WithLogger(logHandler.Logger()))
	streamID := fixtures.NewStreamID()

	// arrange
	initial, err := store.CreateDefaultStream(streamID)
	require.NoError(t, err)
	commitEvents(t, initial, "one")

	winner, err := store.OpenDefaultStream(ctx, streamID, 0, 0)
	require.NoError(t, err)
	loser, err := store.OpenDefaultStream(ctx, streamID, 0, 0)
	require.NoError(t, err)

	commitEvents(t, winner, "two", "three")
	require.NoError(t, loser.Add(fixtures.SomeEvent("four")))

	// act
	err = loser.CommitChanges(ctx, uuid.New())

	// assert
	require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, 3, loser.StreamRevision())
	assert.Equal(t, 2, loser.CommitSequence())
	assert.Len(t, loser.CommittedEvents(), 3)
	assert.Len(t, loser.UncommittedEvents(), 1)
	assert.True(t, logHandler.HasInfoLogWithMessage("underlying stream has changed since it was loaded, rebasing").Assert())

	// act: retry with a fresh commit id
	err = loser.CommitChanges(ctx, uuid.New())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 4, loser.StreamRevision())
	assert.Equal(t, 3, loser.CommitSequence())
	assert.Empty(t, loser.UncommittedEvents())
}

func Test_Stream_ConcurrentWritersExactlyOneSucceeds(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)
	streamID := fixtures.NewStreamID()
	writers := 8

	// arrange
	streams := make([]*eventstore.OptimisticEventStream, 0, writers)
	for range writers {
		stream, err := store.CreateDefaultStream(streamID)
		require.NoError(t, err)
		require.NoError(t, stream.Add(fixtures.SomeEvent("racing")))
		streams = append(streams, stream)
	}

	// act
	results := make(chan error, writers)
	for _, stream := range streams {
		go func() { results <- stream.CommitChanges(ctx, uuid.New()) }()
	}

	// assert
	succeeded, conflicted := 0, 0
	for range writers {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict):
			conflicted++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicted)
}

func Test_Stream_OpenHonorsRevisionWindowAtEventGranularity(t *testing.T) {
	// setup
	ctx := context.Background()
	store, engine := newStore(t)
	streamID := fixtures.NewStreamID()

	// arrange: three commits with revisions 1-2, 3-4, 5-6
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, streamID, 3)
	require.NoError(t, err)

	// act
	stream, err := store.OpenDefaultStream(ctx, streamID, 2, 5)

	// assert
	require.NoError(t, err)
	assert.Len(t, stream.CommittedEvents(), 4)
	assert.Equal(t, 5, stream.StreamRevision())
	assert.Equal(t, 3, stream.CommitSequence())
}

func Test_Stream_OpenStopsAtFirstCommitBeyondMaxRevision(t *testing.T) {
	// setup
	ctx := context.Background()
	store, engine := newStore(t)
	streamID := fixtures.NewStreamID()

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, streamID, 3)
	require.NoError(t, err)

	// act
	stream, err := store.OpenDefaultStream(ctx, streamID, 0, 2)

	// assert
	require.NoError(t, err)
	assert.Len(t, stream.CommittedEvents(), 2)
	assert.Equal(t, 2, stream.StreamRevision())
	assert.Equal(t, 1, stream.CommitSequence())
}

func Test_Stream_OpenFromNonZeroRevisionOnEmptyStreamFailsWithStreamNotFound(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)

	// act
	_, err := store.OpenDefaultStream(ctx, fixtures.NewStreamID(), 1, 0)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
}

func Test_Stream_OpenFromZeroRevisionOnEmptyStreamSucceeds(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)

	// act
	stream, err := store.OpenDefaultStream(ctx, fixtures.NewStreamID(), 0, 0)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 0, stream.StreamRevision())
	assert.Empty(t, stream.CommittedEvents())
}

func Test_Stream_OpenFromSnapshotLoadsOnlyLaterEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	store, engine := newStore(t)
	streamID := fixtures.NewStreamID()

	// arrange: revisions 1-2 and 3-4, snapshot at the head
	commits, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, streamID, 2)
	require.NoError(t, err)

	snapshot, err := eventstore.BuildSnapshot(eventstore.DefaultBucket, streamID, commits[1].StreamRevision, "state at 4")
	require.NoError(t, err)

	stream, err := store.OpenStreamFromSnapshot(ctx, snapshot, 0)
	require.NoError(t, err)
	require.Empty(t, stream.CommittedEvents())
	require.Equal(t, 4, stream.StreamRevision())

	// act
	commitEvents(t, stream, "five")

	// assert
	assert.Equal(t, 5, stream.StreamRevision())
	assert.Equal(t, 3, stream.CommitSequence())
	assert.Len(t, stream.CommittedEvents(), 1)
}

func Test_Stream_OpenFromSnapshotInTheMiddleOfACommit(t *testing.T) {
	// setup
	ctx := context.Background()
	store, engine := newStore(t)
	streamID := fixtures.NewStreamID()

	// arrange: revisions 1-2, 3-4, 5-6, snapshot at 3
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, streamID, 3)
	require.NoError(t, err)

	snapshot, err := eventstore.BuildSnapshot(eventstore.DefaultBucket, streamID, 3, "state at 3")
	require.NoError(t, err)

	// act
	stream, err := store.OpenStreamFromSnapshot(ctx, snapshot, 0)

	// assert
	require.NoError(t, err)
	assert.Len(t, stream.CommittedEvents(), 3)
	assert.Equal(t, 6, stream.StreamRevision())
	assert.Equal(t, 3, stream.CommitSequence())
}

func Test_Stream_InitializeFromSnapshotOfAnotherStreamFails(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)

	snapshot, err := eventstore.BuildSnapshot(eventstore.DefaultBucket, fixtures.NewStreamID(), 1, "other")
	require.NoError(t, err)

	// act
	err = stream.InitializeFromSnapshot(ctx, snapshot, eventstore.MaxRevision)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrSnapshotStreamMismatch)
}

func Test_Stream_AddIgnoresEventsWithoutBody(t *testing.T) {
	// setup
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	err = stream.Add(eventstore.EventMessage{Headers: eventstore.Headers{"only": "headers"}})

	// assert
	require.NoError(t, err)
	assert.False(t, stream.HasChanges())
}

func Test_Stream_HeadersAreCommittedWithTheEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)
	streamID := fixtures.NewStreamID()

	// arrange
	stream, err := store.CreateDefaultStream(streamID)
	require.NoError(t, err)
	require.NoError(t, stream.SetHeader("tenant", "library-north"))

	// act
	commitEvents(t, stream, "one")

	// assert
	assert.Equal(t, "library-north", stream.CommittedHeaders()["tenant"])
	assert.Empty(t, stream.UncommittedHeaders())

	reopened, err := store.OpenDefaultStream(ctx, streamID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "library-north", reopened.CommittedHeaders()["tenant"])
}

func Test_Stream_ClearChangesDiscardsEventsAndHeaders(t *testing.T) {
	// setup
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)
	require.NoError(t, stream.Add(fixtures.SomeEvent("one")))
	require.NoError(t, stream.SetHeader("key", "value"))

	// act
	err = stream.ClearChanges()

	// assert
	require.NoError(t, err)
	assert.Empty(t, stream.UncommittedEvents())
	assert.Empty(t, stream.UncommittedHeaders())
}

func Test_Stream_ViewsAreCopies(t *testing.T) {
	// setup
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)
	require.NoError(t, stream.Add(fixtures.SomeEvent("one")))

	// act
	uncommitted := stream.UncommittedEvents()
	uncommitted[0] = eventstore.EventMessage{Body: "tampered"}

	// assert
	assert.NotEqual(t, "tampered", stream.UncommittedEvents()[0].Body)
}

func Test_Stream_OperationsAfterCloseFailWithUseAfterClose(t *testing.T) {
	// setup
	ctx := context.Background()
	store, _ := newStore(t)

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	// act & assert
	assert.ErrorIs(t, stream.Add(fixtures.SomeEvent("one")), eventstore.ErrUseAfterClose)
	assert.ErrorIs(t, stream.SetHeader("key", "value"), eventstore.ErrUseAfterClose)
	assert.ErrorIs(t, stream.CommitChanges(ctx, uuid.New()), eventstore.ErrUseAfterClose)
	assert.ErrorIs(t, stream.ClearChanges(), eventstore.ErrUseAfterClose)
	assert.ErrorIs(t, stream.Initialize(ctx, 0, eventstore.MaxRevision), eventstore.ErrUseAfterClose)
}

func Test_Stream_CommitOnClosedStreamLogsNoAttempt(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := testdoubles.NewLogHandlerSpy(false)
	store, _ := newStore(t, eventstore.WithLogger(logHandler.Logger()))

	// arrange
	stream, err := store.CreateDefaultStream(fixtures.NewStreamID())
	require.NoError(t, err)
	require.NoError(t, stream.Add(fixtures.SomeEvent("one")))
	require.NoError(t, stream.Close())

	// act
	err = stream.CommitChanges(ctx, uuid.New())

	// assert
	assert.ErrorIs(t, err, eventstore.ErrUseAfterClose)
	assert.False(t, logHandler.HasDebugLogWithMessage("attempting to commit changes").Assert())
}
