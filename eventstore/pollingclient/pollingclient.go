package pollingclient

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	logMsgObserverStarted = "commit observer started"
	logMsgObserverStopped = "commit observer stopped"
	logMsgPollSkipped     = "poll already in flight, skipping"
	logMsgPollCompleted   = "poll completed"
	logMsgPollFailed      = "polling for commits failed, retrying at the next interval"
	logMsgStopRequested   = "stop requested, abandoning poll"
	logAttrBucketID       = "bucket_id"
	logAttrCheckpoint     = "checkpoint"
	logAttrInterval       = "interval"
	logAttrPublished      = "published"
	logAttrError          = "error"
)

// PollingClient turns the global commit feed of a Persistence into observed sessions.
type PollingClient struct {
	persistence eventstore.Persistence
	interval    time.Duration
	logger      eventstore.Logger
}

// NewPollingClient creates a PollingClient reading from persistence.
func NewPollingClient(persistence eventstore.Persistence, options ...Option) (*PollingClient, error) {
	if persistence == nil {
		return nil, eventstore.ErrNilPersistence
	}

	c := &PollingClient{
		persistence: persistence,
		interval:    defaultInterval,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// ObserveFrom creates an observer of all buckets, resuming strictly after checkpointToken.
// An empty token observes from the beginning.
func (c *PollingClient) ObserveFrom(checkpointToken string) *CommitObserver {
	return c.newObserver("", checkpointToken)
}

// ObserveFromBucket creates an observer of one bucket, resuming strictly after checkpointToken.
func (c *PollingClient) ObserveFromBucket(bucketID, checkpointToken string) *CommitObserver {
	return c.newObserver(bucketID, checkpointToken)
}

func (c *PollingClient) newObserver(bucketID, checkpointToken string) *CommitObserver {
	return &CommitObserver{
		persistence: c.persistence,
		interval:    c.interval,
		logger:      c.logger,
		bucketID:    bucketID,
		checkpoint:  checkpointToken,
		stopped:     make(chan struct{}),
		subscribers: make([]*Subscription, 0),
	}
}

// CommitObserver is one observation session: it polls the feed from its checkpoint and
// publishes every commit, in checkpoint order, to all of its subscribers.
//
// Publishing only queues the commit for each subscriber. Every Subscription forwards its queue to
// its channel on its own goroutine, so neither polling nor Start ever waits for a subscriber to read.
// A subscriber that falls behind keeps its backlog in memory.
type CommitObserver struct {
	persistence eventstore.Persistence
	interval    time.Duration
	logger      eventstore.Logger
	bucketID    string

	mu         sync.Mutex
	checkpoint string
	closed     bool
	firstPoll  chan struct{}
	loopDone   chan struct{}
	cancel     context.CancelFunc
	polls      sync.WaitGroup

	polling       atomic.Bool
	stopRequested atomic.Bool
	stopped       chan struct{}
	closeOnce     sync.Once

	publishMu         sync.Mutex
	subscribers       []*Subscription
	subscribersClosed bool
}

// Start begins polling. It blocks until the first poll round has finished or ctx is done.
//
// Start is idempotent: later calls wait for the same first poll instead of starting a second loop.
// The loop keeps the values of ctx but not its cancellation; it runs until Close.
func (o *CommitObserver) Start(ctx context.Context) error {
	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()
		return eventstore.ErrUseAfterClose
	}

	if o.firstPoll == nil {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		o.cancel = cancel
		o.firstPoll = make(chan struct{})
		o.loopDone = make(chan struct{})

		o.logInfo(logMsgObserverStarted, logAttrBucketID, o.bucketID, logAttrCheckpoint, o.checkpoint, logAttrInterval, o.interval.String())

		go o.run(loopCtx, o.firstPoll, o.loopDone)
	}

	firstPoll := o.firstPoll
	o.mu.Unlock()

	select {
	case <-firstPoll:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollNow runs one poll round immediately. It is a no-op while another round is in flight.
func (o *CommitObserver) PollNow(ctx context.Context) error {
	if o.stopRequested.Load() {
		return eventstore.ErrUseAfterClose
	}

	o.poll(ctx)

	return nil
}

// Subscribe attaches a new subscriber with the given channel buffer. The subscriber receives
// only commits published after this call.
//
// When the observer is closed, the commits queued so far are still delivered before the channel
// is closed. Unsubscribe closes the channel without delivering the rest.
func (o *CommitObserver) Subscribe(buffer int) *Subscription {
	sub := &Subscription{
		observer: o,
		commits:  make(chan eventstore.Commit, max(buffer, 0)),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}

	go sub.deliver()

	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	if o.subscribersClosed {
		sub.complete()
		return sub
	}

	o.subscribers = append(o.subscribers, sub)

	return sub
}

// Checkpoint returns the token of the last published commit, or the starting token.
func (o *CommitObserver) Checkpoint() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.checkpoint
}

// Wait blocks until the observer is closed or ctx is done.
func (o *CommitObserver) Wait(ctx context.Context) error {
	select {
	case <-o.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop, lets an in-flight poll finish, completes all subscribers and
// releases everyone blocked in Wait. It is idempotent.
func (o *CommitObserver) Close() error {
	o.closeOnce.Do(func() {
		o.stopRequested.Store(true)

		o.mu.Lock()
		o.closed = true
		cancel, loopDone := o.cancel, o.loopDone
		o.mu.Unlock()

		if cancel != nil {
			cancel()
			<-loopDone
		}

		o.polls.Wait()
		o.completeSubscribers()

		o.logInfo(logMsgObserverStopped, logAttrBucketID, o.bucketID, logAttrCheckpoint, o.Checkpoint())

		close(o.stopped)
	})

	return nil
}

func (o *CommitObserver) run(ctx context.Context, firstPoll, loopDone chan struct{}) {
	defer close(loopDone)

	o.poll(ctx)
	close(firstPoll)

	timer := time.NewTimer(o.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			o.poll(ctx)
			timer.Reset(o.interval)
		}
	}
}

func (o *CommitObserver) poll(ctx context.Context) {
	if !o.polling.CompareAndSwap(false, true) {
		o.logDebug(logMsgPollSkipped, logAttrBucketID, o.bucketID)
		return
	}
	defer o.polling.Store(false)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	o.polls.Add(1)
	checkpoint := o.checkpoint
	o.mu.Unlock()

	defer o.polls.Done()

	commits := o.read(eventstore.WithEventualConsistency(ctx), checkpoint)
	defer commits.Close() //nolint:errcheck // Close never fails

	published := 0

	for commits.Next() {
		if o.stopRequested.Load() {
			o.logDebug(logMsgStopRequested, logAttrBucketID, o.bucketID)
			return
		}

		commit := commits.Current()
		o.publish(commit)

		o.mu.Lock()
		o.checkpoint = commit.CheckpointToken
		o.mu.Unlock()

		published++
	}

	if err := commits.Err(); err != nil {
		if o.stopRequested.Load() && errors.Is(err, context.Canceled) {
			return
		}

		o.logError(logMsgPollFailed, logAttrBucketID, o.bucketID, logAttrCheckpoint, checkpoint, logAttrError, err.Error())

		return
	}

	o.logDebug(logMsgPollCompleted, logAttrBucketID, o.bucketID, logAttrCheckpoint, o.Checkpoint(), logAttrPublished, published)
}

func (o *CommitObserver) read(ctx context.Context, checkpoint string) *eventstore.Sequence[eventstore.Commit] {
	if o.bucketID == "" {
		return o.persistence.ReadFrom(ctx, checkpoint)
	}

	return o.persistence.ReadBucketFrom(ctx, o.bucketID, checkpoint)
}

// publish queues commit for every subscriber, in subscription order.
func (o *CommitObserver) publish(commit eventstore.Commit) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	for _, sub := range o.subscribers {
		sub.enqueue(commit)
	}
}

func (o *CommitObserver) unsubscribe(sub *Subscription) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	o.subscribers = slices.DeleteFunc(o.subscribers, func(s *Subscription) bool { return s == sub })
}

func (o *CommitObserver) completeSubscribers() {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	for _, sub := range o.subscribers {
		sub.complete()
	}

	o.subscribers = nil
	o.subscribersClosed = true
}

func (o *CommitObserver) logDebug(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}

func (o *CommitObserver) logInfo(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *CommitObserver) logError(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Error(msg, args...)
	}
}

// Subscription receives the commits published by a CommitObserver.
type Subscription struct {
	observer *CommitObserver
	commits  chan eventstore.Commit
	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	queue     []eventstore.Commit
	completed bool
	wake      chan struct{}
}

// Commits returns the channel the commits are delivered on. It is closed on completion.
func (s *Subscription) Commits() <-chan eventstore.Commit {
	return s.commits
}

// Unsubscribe detaches the subscriber and closes its channel, dropping commits not yet delivered.
// It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.doneOnce.Do(func() { close(s.done) })
	s.observer.unsubscribe(s)
}

func (s *Subscription) enqueue(commit eventstore.Commit) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}

	s.queue = append(s.queue, commit)
	s.mu.Unlock()

	s.signal()
}

// complete lets deliver close the channel once the queue is drained.
func (s *Subscription) complete() {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()

	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliver forwards the queue to the channel until the subscription is completed and drained,
// or unsubscribed.
func (s *Subscription) deliver() {
	defer close(s.commits)

	for {
		s.mu.Lock()

		if len(s.queue) == 0 {
			completed := s.completed
			s.mu.Unlock()

			if completed {
				return
			}

			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		next := s.queue[0]
		s.queue[0] = eventstore.Commit{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.commits <- next:
		case <-s.done:
			return
		}
	}
}
