package eventstore

import "context"

// ConsistencyLevel tells an engine with read replicas where a read may be served from.
type ConsistencyLevel int

const (
	// StrongConsistency reads from the primary. Streams always read this way, because a rebase after
	// a concurrency conflict must see the commit that won the race.
	StrongConsistency ConsistencyLevel = iota

	// EventualConsistency allows reads from a replica. Suitable for feed consumers such as the polling
	// client, which resume from their checkpoint and tolerate a short lag.
	EventualConsistency
)

type contextKey string

// ConsistencyLevelKey is the context key used to store the consistency level.
const ConsistencyLevelKey contextKey = "eventstore.consistency_level"

// WithStrongConsistency returns a context that routes reads to the primary.
func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, StrongConsistency)
}

// WithEventualConsistency returns a context that allows reads from a replica.
//
//	ctx = eventstore.WithEventualConsistency(ctx)
//	commits := persistence.ReadFrom(ctx, checkpoint)
func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, EventualConsistency)
}

// GetConsistencyLevel extracts the consistency level from ctx, defaulting to StrongConsistency.
func GetConsistencyLevel(ctx context.Context) ConsistencyLevel {
	if level, ok := ctx.Value(ConsistencyLevelKey).(ConsistencyLevel); ok {
		return level
	}

	return StrongConsistency
}

// String provides a string representation of ConsistencyLevel for logging.
func (c ConsistencyLevel) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}
