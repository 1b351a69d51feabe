package lending

import (
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

func Test_Decide(t *testing.T) {
	bookID := uuid.New()
	readerID := uuid.New()
	otherReaderID := uuid.New()
	now := time.Now()

	added := BuildBookCopyAddedToCirculation(bookID, "978-1-098-10013-1", "Learning Go", now)
	lent := BuildBookCopyLentToReader(bookID, readerID, now)
	returned := BuildBookCopyReturnedByReader(bookID, readerID, now)

	testCases := []struct {
		name          string
		history       []DomainEvent
		command       Command
		expectedEvent DomainEvent
		expectedErr   error
	}{
		{
			name:          "add a new copy",
			command:       AddBookCopy{BookID: bookID, ISBN: added.ISBN, Title: added.Title, OccurredAt: now},
			expectedEvent: added,
		},
		{
			name:        "add a copy twice",
			history:     []DomainEvent{added},
			command:     AddBookCopy{BookID: bookID, OccurredAt: now},
			expectedErr: ErrBookAlreadyInCirculation,
		},
		{
			name:          "lend an available copy",
			history:       []DomainEvent{added},
			command:       LendBookCopy{BookID: bookID, ReaderID: readerID, OccurredAt: now},
			expectedEvent: lent,
		},
		{
			name:        "lend a copy not in circulation",
			command:     LendBookCopy{BookID: bookID, ReaderID: readerID, OccurredAt: now},
			expectedErr: ErrBookNotInCirculation,
		},
		{
			name:    "lend a copy to the reader who has it",
			history: []DomainEvent{added, lent},
			command: LendBookCopy{BookID: bookID, ReaderID: readerID, OccurredAt: now},
		},
		{
			name:        "lend a copy someone else has",
			history:     []DomainEvent{added, lent},
			command:     LendBookCopy{BookID: bookID, ReaderID: otherReaderID, OccurredAt: now},
			expectedErr: ErrBookAlreadyLent,
		},
		{
			name:          "lend a returned copy",
			history:       []DomainEvent{added, lent, returned},
			command:       LendBookCopy{BookID: bookID, ReaderID: otherReaderID, OccurredAt: now},
			expectedEvent: BuildBookCopyLentToReader(bookID, otherReaderID, now),
		},
		{
			name:          "return a lent copy",
			history:       []DomainEvent{added, lent},
			command:       ReturnBookCopy{BookID: bookID, ReaderID: readerID, OccurredAt: now},
			expectedEvent: returned,
		},
		{
			name:    "return a copy that is not lent",
			history: []DomainEvent{added},
			command: ReturnBookCopy{BookID: bookID, ReaderID: readerID, OccurredAt: now},
		},
		{
			name:        "return a copy lent to another reader",
			history:     []DomainEvent{added, lent},
			command:     ReturnBookCopy{BookID: bookID, ReaderID: otherReaderID, OccurredAt: now},
			expectedErr: ErrBookNotLentToReader,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			decision := Decide(tc.history, tc.command)

			// assert
			assert.Equal(t, tc.expectedEvent, decision.Event)
			assert.ErrorIs(t, decision.Err, tc.expectedErr)
			assert.Equal(t, tc.expectedEvent == nil && tc.expectedErr == nil, decision.IsIdempotent())
		})
	}
}

func Test_DomainEventFrom_DecodesRawJSONByEventType(t *testing.T) {
	// setup
	lent := BuildBookCopyLentToReader(uuid.New(), uuid.New(), time.Now().Truncate(time.Microsecond))
	raw, err := jsoniter.Marshal(lent)
	require.NoError(t, err)

	// act
	event, err := DomainEventFrom(eventstore.EventMessage{
		Body:    jsoniter.RawMessage(raw),
		Headers: eventstore.Headers{headerEventType: BookCopyLentToReaderEventType},
	})

	// assert
	require.NoError(t, err)
	decoded, ok := event.(BookCopyLentToReader)
	require.True(t, ok)
	assert.Equal(t, lent.BookID, decoded.BookID)
	assert.Equal(t, lent.ReaderID, decoded.ReaderID)
	assert.True(t, lent.OccurredAt.Equal(decoded.OccurredAt))
}

func Test_DomainEventFrom_Failures(t *testing.T) {
	// act
	_, errUnknown := DomainEventFrom(eventstore.EventMessage{
		Body:    jsoniter.RawMessage(`{}`),
		Headers: eventstore.Headers{headerEventType: "SomethingElse"},
	})
	_, errInvalid := DomainEventFrom(eventstore.EventMessage{
		Body:    jsoniter.RawMessage(`{"BookID": 42}`),
		Headers: eventstore.Headers{headerEventType: BookCopyAddedToCirculationEventType},
	})
	_, errForeign := DomainEventFrom(eventstore.EventMessage{Body: "just a string"})

	// assert
	assert.ErrorIs(t, errUnknown, ErrUnknownEventType)
	assert.ErrorIs(t, errInvalid, ErrMappingToDomainEventFailed)
	assert.ErrorIs(t, errForeign, ErrMappingToDomainEventFailed)
}
