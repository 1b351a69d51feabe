package eventstore

import (
	"cmp"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCheckpoint is returned when a checkpoint token cannot be parsed.
var ErrInvalidCheckpoint = errors.New("checkpoint token is not valid")

// Checkpoint is a backend-assigned, totally ordered position in the global commit feed.
// Callers treat it as opaque: it can be rendered as a token and compared with another Checkpoint
// produced by the same backend.
type Checkpoint interface {
	Value() string
	Compare(other Checkpoint) int
}

// LongCheckpoint is the Checkpoint used by backends with a monotonically increasing integer position.
// The empty token parses to LongCheckpoint(0), which sorts before every assigned position.
type LongCheckpoint int64

// ParseLongCheckpoint parses a base-10 token into a LongCheckpoint.
func ParseLongCheckpoint(token string) (LongCheckpoint, error) {
	if token == "" {
		return 0, nil
	}

	value, err := strconv.ParseInt(token, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.Join(ErrInvalidCheckpoint, err)
	}

	return LongCheckpoint(value), nil
}

// Value returns the token form of the checkpoint.
func (c LongCheckpoint) Value() string {
	return strconv.FormatInt(int64(c), 10)
}

// Compare orders c against other. A checkpoint of another type is ordered by CompareTokens.
func (c LongCheckpoint) Compare(other Checkpoint) int {
	o, ok := other.(LongCheckpoint)
	if !ok {
		return CompareTokens(c.Value(), other.Value())
	}

	return cmp.Compare(c, o)
}

// CompareTokens orders two checkpoint tokens, shorter tokens first, then lexically.
// For unpadded non-negative integers this is numeric order.
func CompareTokens(a, b string) int {
	return cmp.Or(cmp.Compare(len(a), len(b)), strings.Compare(a, b))
}

var _ Checkpoint = LongCheckpoint(0)
