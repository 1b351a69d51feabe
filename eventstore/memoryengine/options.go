package memoryengine

import (
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const defaultPageSize = 512

// Option defines a functional option for configuring Engine.
type Option func(*Engine) error

// WithPageSize sets how many commits a read collects per lock acquisition.
func WithPageSize(pageSize int) Option {
	return func(e *Engine) error {
		if pageSize <= 0 {
			return eventstore.ErrInvalidPageSize
		}

		e.pageSize = pageSize

		return nil
	}
}

// WithLogger sets the logger for the Engine.
//
// Debug level: reads and appended commits
// Info level: concurrency conflicts, duplicates, purges and deletions.
func WithLogger(logger eventstore.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}
