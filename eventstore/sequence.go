package eventstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// ErrSequenceClosed is returned from yield once the consumer has closed the Sequence.
// A producer receiving it must return; the error never reaches the consumer.
var ErrSequenceClosed = errors.New("sequence closed")

// ErrProducerPanicked is reported by Err when the producer panicked.
var ErrProducerPanicked = errors.New("sequence producer panicked")

// ProduceFunc pushes items into a Sequence by calling yield once per item.
// yield blocks until the consumer asks for the item after it, so a producer never runs
// more than one item ahead of its consumer.
type ProduceFunc[T any] func(ctx context.Context, yield func(T) error) error

// Sequence is a lazy, pull-based sequence fed by a single producer goroutine.
//
// The producer starts on the first call to Next. Producer and consumer rendezvous through two
// unbuffered channels: pull (the consumer is ready for the next item) and push (the producer
// hands over an item). Nothing is buffered beyond the item in flight.
//
// Typical usage mirrors sql.Rows:
//
//	commits := persistence.ReadFrom(ctx, token)
//	defer commits.Close()
//
//	for commits.Next() {
//		commit := commits.Current()
//		// ...
//	}
//
//	if err := commits.Err(); err != nil {
//		// handle error
//	}
//
// A Sequence is not safe for concurrent use by multiple consumers, Close excepted.
type Sequence[T any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	produce ProduceFunc[T]

	pull   chan struct{}
	push   chan T
	done   chan struct{}
	closed chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	// producer side
	primed bool
	prodErr error

	// consumer side
	current  T
	finished bool
	err      error
}

// NewSequence creates a Sequence fed by produce. The producer runs with a child of ctx that is
// canceled when the Sequence is closed.
func NewSequence[T any](ctx context.Context, produce ProduceFunc[T]) *Sequence[T] {
	ctx, cancel := context.WithCancel(ctx)

	return &Sequence[T]{
		ctx:     ctx,
		cancel:  cancel,
		produce: produce,
		pull:    make(chan struct{}),
		push:    make(chan T),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// FromSlice creates a Sequence that yields the given items in order.
func FromSlice[T any](items []T) *Sequence[T] {
	return NewSequence(context.Background(), func(_ context.Context, yield func(T) error) error {
		for _, item := range items {
			if err := yield(item); err != nil {
				return err
			}
		}

		return nil
	})
}

// Empty creates a Sequence without items.
func Empty[T any]() *Sequence[T] {
	return FromSlice[T](nil)
}

// Next blocks until the next item is available or the producer has finished.
// It returns false when the sequence is exhausted, has failed (see Err) or was closed.
func (s *Sequence[T]) Next() bool {
	if s.finished {
		return false
	}

	if s.isClosed() {
		s.finished = true
		return false
	}

	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})

	select {
	case s.pull <- struct{}{}:
	case <-s.done:
		return s.finish()
	case <-s.closed:
		s.finished = true
		return false
	}

	select {
	case item := <-s.push:
		s.current = item
		return true
	case <-s.done:
		return s.finish()
	case <-s.closed:
		s.finished = true
		return false
	}
}

// Current returns the item fetched by the last successful call to Next.
func (s *Sequence[T]) Current() T {
	return s.current
}

// Err returns the error the producer failed with, if any.
// Closing a Sequence early is not an error.
func (s *Sequence[T]) Err() error {
	return s.err
}

// Close stops the sequence. A producer blocked in yield is released and Close waits until it has returned,
// so resources held by the producer are released when Close returns.
// Close is idempotent and safe to call from another goroutine than the consumer.
func (s *Sequence[T]) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})

	if s.started.Load() {
		<-s.done
	}

	return nil
}

// All returns an iterator over the remaining items. The Sequence is closed when the iteration ends,
// including early breaks. Check Err afterward.
func (s *Sequence[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		defer s.Close() //nolint:errcheck // Close never fails

		for s.Next() {
			if !yield(s.Current()) {
				return
			}
		}
	}
}

// Collect drains the sequence into a slice and closes it.
func Collect[T any](s *Sequence[T]) ([]T, error) {
	items := make([]T, 0)

	for item := range s.All() {
		items = append(items, item)
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Sequence[T]) run() {
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			s.prodErr = fmt.Errorf("%w: %v", ErrProducerPanicked, r)
		}
	}()

	err := s.produce(s.ctx, s.yield)
	if err != nil && !errors.Is(err, ErrSequenceClosed) {
		s.prodErr = err
	}
}

func (s *Sequence[T]) yield(item T) error {
	if !s.primed {
		if err := s.awaitPull(); err != nil {
			return err
		}
	}

	s.primed = false

	select {
	case s.push <- item:
	case <-s.closed:
		return ErrSequenceClosed
	case <-s.ctx.Done():
		return s.ctxErr()
	}

	// Hold the producer until the consumer asks for the next item.
	if err := s.awaitPull(); err != nil {
		return err
	}

	s.primed = true

	return nil
}

func (s *Sequence[T]) awaitPull() error {
	select {
	case <-s.pull:
		return nil
	case <-s.closed:
		return ErrSequenceClosed
	case <-s.ctx.Done():
		return s.ctxErr()
	}
}

// ctxErr reports a cancellation caused by Close as ErrSequenceClosed.
func (s *Sequence[T]) ctxErr() error {
	if s.isClosed() {
		return ErrSequenceClosed
	}

	return s.ctx.Err()
}

func (s *Sequence[T]) finish() bool {
	s.finished = true

	if !s.isClosed() {
		s.err = s.prodErr
	}

	return false
}

func (s *Sequence[T]) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
