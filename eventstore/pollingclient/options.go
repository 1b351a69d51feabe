package pollingclient

import (
	"time"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const defaultInterval = 5 * time.Second

// Option defines a functional option for configuring PollingClient.
type Option func(*PollingClient) error

// WithInterval sets the delay between two polls of a started observer.
func WithInterval(interval time.Duration) Option {
	return func(c *PollingClient) error {
		if interval <= 0 {
			return eventstore.ErrInvalidPollingInterval
		}

		c.interval = interval

		return nil
	}
}

// WithLogger sets the logger for the PollingClient and its observers.
//
// Debug level: poll rounds and skipped polls
// Info level: observer start and stop
// Error level: failed polls, which are retried at the next interval.
func WithLogger(logger eventstore.Logger) Option {
	return func(c *PollingClient) error {
		c.logger = logger
		return nil
	}
}
