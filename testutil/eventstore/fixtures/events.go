package fixtures

import (
	"time"

	"github.com/google/uuid"
)

// BookCopyAddedToCirculationEventType is the event type identifier.
const BookCopyAddedToCirculationEventType = "BookCopyAddedToCirculation"

// BookCopyRemovedFromCirculationEventType is the event type identifier.
const BookCopyRemovedFromCirculationEventType = "BookCopyRemovedFromCirculation"

// BookCopyAddedToCirculation represents when a book copy is added to library circulation.
type BookCopyAddedToCirculation struct {
	EventType  string    `json:"eventType"`
	BookID     string    `json:"bookId"`
	ISBN       string    `json:"isbn"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurredAt"`
}

// BuildBookCopyAddedToCirculation creates a new BookCopyAddedToCirculation event.
func BuildBookCopyAddedToCirculation(bookID uuid.UUID, isbn, title string, occurredAt time.Time) BookCopyAddedToCirculation {
	return BookCopyAddedToCirculation{
		EventType:  BookCopyAddedToCirculationEventType,
		BookID:     bookID.String(),
		ISBN:       isbn,
		Title:      title,
		OccurredAt: occurredAt.UTC(),
	}
}

// BookCopyRemovedFromCirculation represents when a book copy is removed from library circulation.
type BookCopyRemovedFromCirculation struct {
	EventType  string    `json:"eventType"`
	BookID     string    `json:"bookId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// BuildBookCopyRemovedFromCirculation creates a new BookCopyRemovedFromCirculation event.
func BuildBookCopyRemovedFromCirculation(bookID uuid.UUID, occurredAt time.Time) BookCopyRemovedFromCirculation {
	return BookCopyRemovedFromCirculation{
		EventType:  BookCopyRemovedFromCirculationEventType,
		BookID:     bookID.String(),
		OccurredAt: occurredAt.UTC(),
	}
}
