package pollingclient_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/pollingclient"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/eventstore/fixtures"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/observability/testdoubles"
)

const (
	testInterval   = 20 * time.Millisecond
	receiveTimeout = 2 * time.Second
)

func newEngine(t *testing.T) *memoryengine.Engine {
	t.Helper()

	engine, err := memoryengine.NewEngine()
	require.NoError(t, err)

	return engine
}

func newClient(t *testing.T, persistence eventstore.Persistence, options ...pollingclient.Option) *pollingclient.PollingClient {
	t.Helper()

	options = append([]pollingclient.Option{pollingclient.WithInterval(testInterval)}, options...)
	client, err := pollingclient.NewPollingClient(persistence, options...)
	require.NoError(t, err)

	return client
}

func receive(t *testing.T, sub *pollingclient.Subscription) eventstore.Commit {
	t.Helper()

	select {
	case commit, ok := <-sub.Commits():
		require.True(t, ok, "subscription was completed unexpectedly")
		return commit
	case <-time.After(receiveTimeout):
		require.FailNow(t, "no commit received in time")
		return eventstore.Commit{}
	}
}

func assertNothingReceived(t *testing.T, sub *pollingclient.Subscription) {
	t.Helper()

	select {
	case commit := <-sub.Commits():
		assert.Failf(t, "unexpected commit", "received checkpoint %s", commit.CheckpointToken)
	case <-time.After(5 * testInterval):
	}
}

func Test_NewPollingClient_WithNilPersistenceFails(t *testing.T) {
	// act
	_, err := pollingclient.NewPollingClient(nil)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrNilPersistence)
}

func Test_NewPollingClient_WithInvalidIntervalFails(t *testing.T) {
	// act
	_, errZero := pollingclient.NewPollingClient(newEngine(t), pollingclient.WithInterval(0))
	_, errNegative := pollingclient.NewPollingClient(newEngine(t), pollingclient.WithInterval(-time.Second))

	// assert
	assert.ErrorIs(t, errZero, eventstore.ErrInvalidPollingInterval)
	assert.ErrorIs(t, errNegative, eventstore.ErrInvalidPollingInterval)
}

func Test_Observer_PublishesExistingAndNewCommits(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	// arrange
	first, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	sub := observer.Subscribe(0)

	// act
	require.NoError(t, observer.Start(ctx))

	// assert
	assert.Equal(t, first.CommitID, receive(t, sub).CommitID)

	// arrange
	second, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	// assert
	received := receive(t, sub)
	assert.Equal(t, second.CommitID, received.CommitID)
	assert.Equal(t, "2", received.CheckpointToken)
	assert.Eventually(t, func() bool { return observer.Checkpoint() == "2" }, receiveTimeout, testInterval)
}

func Test_Observer_FansOutToAllSubscribersInOrder(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	// arrange
	commits, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 3)
	require.NoError(t, err)

	subA := observer.Subscribe(len(commits))
	subB := observer.Subscribe(len(commits))

	// act
	require.NoError(t, observer.Start(ctx))

	// assert
	for _, expected := range commits {
		assert.Equal(t, expected.CheckpointToken, receive(t, subA).CheckpointToken)
		assert.Equal(t, expected.CheckpointToken, receive(t, subB).CheckpointToken)
	}
}

func Test_Observer_StartIsIdempotent(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := testdoubles.NewLogHandlerSpy(false)
	observer := newClient(t, newEngine(t), pollingclient.WithLogger(logHandler.Logger())).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	// act
	err1 := observer.Start(ctx)
	err2 := observer.Start(ctx)

	// assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, 1, logHandler.HasInfoLogWithMessage("commit observer started").Count())
}

func Test_Observer_PollNowWorksWithoutStart(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine, pollingclient.WithInterval(time.Hour)).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	sub := observer.Subscribe(4)

	// arrange
	commit, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	err = observer.PollNow(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, commit.CommitID, receive(t, sub).CommitID)
	assert.Equal(t, commit.CheckpointToken, observer.Checkpoint())
}

func Test_Observer_OfBucketOnlyPublishesThatBucket(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine).ObserveFromBucket("tenant-b", "")
	defer observer.Close() //nolint:errcheck

	sub := observer.Subscribe(4)

	// arrange
	_, err := fixtures.CommitSingle(ctx, engine, "tenant-a", fixtures.NewStreamID())
	require.NoError(t, err)
	wanted, err := fixtures.CommitSingle(ctx, engine, "tenant-b", fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	require.NoError(t, observer.PollNow(ctx))

	// assert
	assert.Equal(t, wanted.CommitID, receive(t, sub).CommitID)
	assertNothingReceived(t, sub)
}

func Test_Observer_ResumesStrictlyAfterCheckpoint(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)

	// arrange
	commits, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 3)
	require.NoError(t, err)

	observer := newClient(t, engine).ObserveFrom(commits[1].CheckpointToken)
	defer observer.Close() //nolint:errcheck

	sub := observer.Subscribe(4)

	// act
	require.NoError(t, observer.PollNow(ctx))

	// assert
	assert.Equal(t, commits[2].CheckpointToken, receive(t, sub).CheckpointToken)
	assertNothingReceived(t, sub)
}

func Test_Observer_CloseCompletesSubscribersAndReleasesWaiters(t *testing.T) {
	// setup
	ctx := context.Background()
	observer := newClient(t, newEngine(t)).ObserveFrom("")
	sub := observer.Subscribe(0)
	require.NoError(t, observer.Start(ctx))

	waitErr := make(chan error, 1)
	go func() { waitErr <- observer.Wait(ctx) }()

	// act
	require.NoError(t, observer.Close())
	require.NoError(t, observer.Close())

	// assert
	_, open := <-sub.Commits()
	assert.False(t, open)

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(receiveTimeout):
		assert.Fail(t, "Wait did not return after Close")
	}

	assert.ErrorIs(t, observer.Start(ctx), eventstore.ErrUseAfterClose)
	assert.ErrorIs(t, observer.PollNow(ctx), eventstore.ErrUseAfterClose)

	_, open = <-observer.Subscribe(1).Commits()
	assert.False(t, open)
}

func Test_Observer_CloseDoesNotHangOnASubscriberThatNeverReads(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine).ObserveFrom("")
	_ = observer.Subscribe(0)

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 2)
	require.NoError(t, err)

	require.NoError(t, observer.Start(ctx))

	closed := make(chan struct{})

	// act
	go func() {
		_ = observer.Close()
		close(closed)
	}()

	// assert
	select {
	case <-closed:
	case <-time.After(receiveTimeout):
		assert.Fail(t, "Close blocked on a stalled subscriber")
	}

	assert.Equal(t, "2", observer.Checkpoint(), "both commits were queued for the subscriber")
}

func Test_Observer_LateSubscriberOnlySeesFutureCommits(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine, pollingclient.WithInterval(time.Hour)).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	early := observer.Subscribe(4)

	// arrange
	_, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)
	require.NoError(t, observer.PollNow(ctx))
	_ = receive(t, early)

	late := observer.Subscribe(4)
	second, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	require.NoError(t, observer.PollNow(ctx))

	// assert
	assert.Equal(t, second.CommitID, receive(t, late).CommitID)
	assert.Equal(t, second.CommitID, receive(t, early).CommitID)
}

func Test_Observer_UnsubscribedSubscriberIsSkipped(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine, pollingclient.WithInterval(time.Hour)).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	gone := observer.Subscribe(0)
	kept := observer.Subscribe(4)

	// arrange
	gone.Unsubscribe()
	gone.Unsubscribe()

	commit, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	require.NoError(t, observer.PollNow(ctx))

	// assert
	_, open := <-gone.Commits()
	assert.False(t, open)
	assert.Equal(t, commit.CommitID, receive(t, kept).CommitID)
}

type flakyPersistence struct {
	eventstore.Persistence
	failures atomic.Int32
}

var errReadFailed = errors.New("connection reset")

func (p *flakyPersistence) ReadFrom(ctx context.Context, checkpointToken string) *eventstore.Sequence[eventstore.Commit] {
	if p.failures.Add(-1) >= 0 {
		return eventstore.NewSequence(ctx, func(context.Context, func(eventstore.Commit) error) error {
			return errReadFailed
		})
	}

	return p.Persistence.ReadFrom(ctx, checkpointToken)
}

func Test_Observer_KeepsPollingAfterAReadFailure(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	flaky := &flakyPersistence{Persistence: engine}
	flaky.failures.Store(2)
	logHandler := testdoubles.NewLogHandlerSpy(false)
	observer := newClient(t, flaky, pollingclient.WithLogger(logHandler.Logger())).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	sub := observer.Subscribe(1)

	// arrange
	commit, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	// act
	require.NoError(t, observer.Start(ctx))

	// assert
	assert.Equal(t, commit.CommitID, receive(t, sub).CommitID)
	assert.True(t, logHandler.
		HasErrorLogWithMessage("polling for commits failed, retrying at the next interval").
		WithAttributeValue("error", errReadFailed.Error()).
		Assert())
}

func Test_Observer_StartDoesNotWaitForSubscribersToRead(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	engine := newEngine(t)
	observer := newClient(t, engine).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	// arrange
	commit, err := fixtures.CommitSingle(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID())
	require.NoError(t, err)

	sub := observer.Subscribe(0)

	// act
	err = observer.Start(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, commit.CommitID, receive(t, sub).CommitID)
}

func Test_Observer_SubscribingFromWithinASubscriberDoesNotBlock(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine, pollingclient.WithInterval(time.Hour)).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	sub := observer.Subscribe(0)

	// arrange
	commits, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 2)
	require.NoError(t, err)

	subscribed := make(chan *pollingclient.Subscription, 1)

	go func() {
		<-sub.Commits()
		subscribed <- observer.Subscribe(0)
	}()

	// act
	require.NoError(t, observer.PollNow(ctx))

	// assert
	select {
	case late := <-subscribed:
		assert.NotNil(t, late)
	case <-time.After(receiveTimeout):
		require.FailNow(t, "Subscribe blocked while a commit was being delivered")
	}

	assert.Equal(t, commits[1].CheckpointToken, receive(t, sub).CheckpointToken)
}

func Test_Observer_CloseDeliversQueuedCommitsBeforeCompleting(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	observer := newClient(t, engine, pollingclient.WithInterval(time.Hour)).ObserveFrom("")
	sub := observer.Subscribe(0)

	// arrange
	_, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 3)
	require.NoError(t, err)
	require.NoError(t, observer.PollNow(ctx))

	// act
	require.NoError(t, observer.Close())

	// assert
	received := make([]string, 0)
	for commit := range sub.Commits() {
		received = append(received, commit.CheckpointToken)
	}

	assert.Equal(t, []string{"1", "2", "3"}, received)
}

// blockingPersistence holds every ReadFrom producer until release is closed.
type blockingPersistence struct {
	eventstore.Persistence
	reads       atomic.Int32
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}
}

func newBlockingPersistence(persistence eventstore.Persistence) *blockingPersistence {
	return &blockingPersistence{
		Persistence: persistence,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (p *blockingPersistence) ReadFrom(ctx context.Context, checkpointToken string) *eventstore.Sequence[eventstore.Commit] {
	p.reads.Add(1)

	return eventstore.NewSequence(ctx, func(ctx context.Context, yield func(eventstore.Commit) error) error {
		p.enteredOnce.Do(func() { close(p.entered) })

		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}

		commits, err := eventstore.Collect(p.Persistence.ReadFrom(ctx, checkpointToken))
		if err != nil {
			return err
		}

		for _, commit := range commits {
			if err = yield(commit); err != nil {
				return err
			}
		}

		return nil
	})
}

func Test_Observer_PollNowDuringAnInFlightPollIsSkipped(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := newEngine(t)
	blocking := newBlockingPersistence(engine)
	logHandler := testdoubles.NewLogHandlerSpy(false)
	observer := newClient(t, blocking,
		pollingclient.WithInterval(time.Hour),
		pollingclient.WithLogger(logHandler.Logger()),
	).ObserveFrom("")
	defer observer.Close() //nolint:errcheck

	sub := observer.Subscribe(4)

	// arrange
	commits, err := fixtures.CommitMany(ctx, engine, eventstore.DefaultBucket, fixtures.NewStreamID(), 2)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- observer.Start(ctx) }()

	select {
	case <-blocking.entered:
	case <-time.After(receiveTimeout):
		require.FailNow(t, "first poll did not start reading")
	}

	// act
	pollNowErr := observer.PollNow(ctx)
	close(blocking.release)

	// assert
	require.NoError(t, pollNowErr)

	select {
	case startErr := <-started:
		require.NoError(t, startErr)
	case <-time.After(receiveTimeout):
		require.FailNow(t, "Start did not return after the read was released")
	}

	assert.Equal(t, int32(1), blocking.reads.Load())
	assert.True(t, logHandler.HasDebugLogWithMessage("poll already in flight, skipping").Assert())

	for _, expected := range commits {
		assert.Equal(t, expected.CheckpointToken, receive(t, sub).CheckpointToken)
	}

	assertNothingReceived(t, sub)
}
