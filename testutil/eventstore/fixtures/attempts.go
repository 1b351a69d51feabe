package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

// EventsPerAttempt is the number of events BuildAttempt and BuildNextAttempt put into an attempt.
const EventsPerAttempt = 2

// NewStreamID returns a unique stream id.
func NewStreamID() string {
	return uuid.NewString()
}

// SomeEvent returns an EventMessage with a BookCopyAddedToCirculation body.
func SomeEvent(title string) eventstore.EventMessage {
	return eventstore.EventMessage{
		Body: BuildBookCopyAddedToCirculation(uuid.New(), "978-1-098-10013-1", title, time.Now()),
		Headers: eventstore.Headers{
			"eventType": BookCopyAddedToCirculationEventType,
		},
	}
}

// BuildAttempt returns the first attempt of a stream with EventsPerAttempt events.
func BuildAttempt(bucketID, streamID string) eventstore.CommitAttempt {
	return buildAttempt(bucketID, streamID, 1, 0, time.Now().UTC())
}

// BuildNextAttempt returns the attempt following commit in the same stream.
func BuildNextAttempt(commit eventstore.Commit) eventstore.CommitAttempt {
	return buildAttempt(
		commit.BucketID,
		commit.StreamID,
		commit.CommitSequence+1,
		commit.StreamRevision,
		time.Now().UTC(),
	)
}

// BuildAttemptStampedAt returns the first attempt of a stream, stamped at stamp.
func BuildAttemptStampedAt(bucketID, streamID string, stamp time.Time) eventstore.CommitAttempt {
	return buildAttempt(bucketID, streamID, 1, 0, stamp.UTC())
}

func buildAttempt(bucketID, streamID string, sequence, previousRevision int, stamp time.Time) eventstore.CommitAttempt {
	events := make([]eventstore.EventMessage, 0, EventsPerAttempt)
	for i := range EventsPerAttempt {
		events = append(events, SomeEvent(fmt.Sprintf("Event Sourcing, Volume %d", previousRevision+i+1)))
	}

	return eventstore.CommitAttempt{
		BucketID:       bucketID,
		StreamID:       streamID,
		StreamRevision: previousRevision + EventsPerAttempt,
		CommitID:       uuid.New(),
		CommitSequence: sequence,
		CommitStamp:    stamp.Truncate(time.Microsecond),
		Headers:        eventstore.Headers{"correlationId": uuid.NewString()},
		Events:         events,
	}
}

// CommitSingle commits the first attempt of a stream.
func CommitSingle(ctx context.Context, persistence eventstore.CommitEvents, bucketID, streamID string) (eventstore.Commit, error) {
	return persistence.Commit(ctx, BuildAttempt(bucketID, streamID))
}

// CommitNext commits the attempt following commit.
func CommitNext(ctx context.Context, persistence eventstore.CommitEvents, commit eventstore.Commit) (eventstore.Commit, error) {
	return persistence.Commit(ctx, BuildNextAttempt(commit))
}

// CommitMany commits n consecutive attempts to one stream and returns them in order.
func CommitMany(
	ctx context.Context,
	persistence eventstore.CommitEvents,
	bucketID string,
	streamID string,
	n int,
) ([]eventstore.Commit, error) {

	commits := make([]eventstore.Commit, 0, n)

	commit, err := CommitSingle(ctx, persistence, bucketID, streamID)
	if err != nil {
		return nil, err
	}

	commits = append(commits, commit)

	for len(commits) < n {
		if commit, err = CommitNext(ctx, persistence, commit); err != nil {
			return nil, err
		}

		commits = append(commits, commit)
	}

	return commits, nil
}
