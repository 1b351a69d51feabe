package lending

import (
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	BookCopyAddedToCirculationEventType = "BookCopyAddedToCirculation"
	BookCopyLentToReaderEventType       = "BookCopyLentToReader"
	BookCopyReturnedByReaderEventType   = "BookCopyReturnedByReader"

	headerEventType = "eventType"
)

var (
	// ErrMappingToDomainEventFailed is returned when an event message cannot be turned into a domain event.
	ErrMappingToDomainEventFailed = errors.New("mapping to domain event failed")

	// ErrUnknownEventType is returned for event messages with an unrecognized eventType header.
	ErrUnknownEventType = errors.New("unknown event type")
)

// DomainEvent is implemented by all events of a book copy stream.
type DomainEvent interface {
	IsEventType() string
}

type BookCopyAddedToCirculation struct {
	BookID     string
	ISBN       string
	Title      string
	OccurredAt time.Time
}

func (e BookCopyAddedToCirculation) IsEventType() string { return BookCopyAddedToCirculationEventType }

type BookCopyLentToReader struct {
	BookID     string
	ReaderID   string
	OccurredAt time.Time
}

func (e BookCopyLentToReader) IsEventType() string { return BookCopyLentToReaderEventType }

type BookCopyReturnedByReader struct {
	BookID     string
	ReaderID   string
	OccurredAt time.Time
}

func (e BookCopyReturnedByReader) IsEventType() string { return BookCopyReturnedByReaderEventType }

func BuildBookCopyAddedToCirculation(bookID uuid.UUID, isbn, title string, occurredAt time.Time) BookCopyAddedToCirculation {
	return BookCopyAddedToCirculation{
		BookID:     bookID.String(),
		ISBN:       isbn,
		Title:      title,
		OccurredAt: occurredAt.UTC(),
	}
}

func BuildBookCopyLentToReader(bookID, readerID uuid.UUID, occurredAt time.Time) BookCopyLentToReader {
	return BookCopyLentToReader{
		BookID:     bookID.String(),
		ReaderID:   readerID.String(),
		OccurredAt: occurredAt.UTC(),
	}
}

func BuildBookCopyReturnedByReader(bookID, readerID uuid.UUID, occurredAt time.Time) BookCopyReturnedByReader {
	return BookCopyReturnedByReader{
		BookID:     bookID.String(),
		ReaderID:   readerID.String(),
		OccurredAt: occurredAt.UTC(),
	}
}

// EventMessageFrom wraps a domain event for the event store, tagging it with its event type.
func EventMessageFrom(event DomainEvent) eventstore.EventMessage {
	return eventstore.EventMessage{
		Body:    event,
		Headers: eventstore.Headers{headerEventType: event.IsEventType()},
	}
}

// DomainEventsFrom converts the committed events of a stream back to domain events.
func DomainEventsFrom(messages []eventstore.EventMessage) ([]DomainEvent, error) {
	events := make([]DomainEvent, 0, len(messages))

	for _, message := range messages {
		event, err := DomainEventFrom(message)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, nil
}

// DomainEventFrom converts one event message. Bodies are either domain events (in-memory engine)
// or raw JSON (PostgreSQL engine), which is decoded by the eventType header.
func DomainEventFrom(message eventstore.EventMessage) (DomainEvent, error) {
	if event, ok := message.Body.(DomainEvent); ok {
		return event, nil
	}

	raw, ok := message.Body.(jsoniter.RawMessage)
	if !ok {
		return nil, ErrMappingToDomainEventFailed
	}

	eventType, _ := message.Headers[headerEventType].(string)

	switch eventType {
	case BookCopyAddedToCirculationEventType:
		return unmarshalDomainEvent[BookCopyAddedToCirculation](raw)
	case BookCopyLentToReaderEventType:
		return unmarshalDomainEvent[BookCopyLentToReader](raw)
	case BookCopyReturnedByReaderEventType:
		return unmarshalDomainEvent[BookCopyReturnedByReader](raw)
	default:
		return nil, errors.Join(ErrMappingToDomainEventFailed, ErrUnknownEventType)
	}
}

func unmarshalDomainEvent[T DomainEvent](raw jsoniter.RawMessage) (DomainEvent, error) {
	var event T

	if err := jsoniter.ConfigFastest.Unmarshal(raw, &event); err != nil {
		return nil, errors.Join(ErrMappingToDomainEventFailed, err)
	}

	return event, nil
}
