package lending

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookAlreadyInCirculation = errors.New("book is already in circulation")
	ErrBookNotInCirculation     = errors.New("book is not in circulation")
	ErrBookAlreadyLent          = errors.New("book is already lent")
	ErrBookNotLentToReader      = errors.New("book is not lent to this reader")
)

// AddBookCopy puts a new book copy into circulation.
type AddBookCopy struct {
	BookID     uuid.UUID
	ISBN       string
	Title      string
	OccurredAt time.Time
}

// LendBookCopy lends a book copy to a reader.
type LendBookCopy struct {
	BookID     uuid.UUID
	ReaderID   uuid.UUID
	OccurredAt time.Time
}

// ReturnBookCopy takes a lent book copy back from a reader.
type ReturnBookCopy struct {
	BookID     uuid.UUID
	ReaderID   uuid.UUID
	OccurredAt time.Time
}

// Command is one of AddBookCopy, LendBookCopy or ReturnBookCopy.
type Command interface {
	bookID() uuid.UUID
}

func (c AddBookCopy) bookID() uuid.UUID    { return c.BookID }
func (c LendBookCopy) bookID() uuid.UUID   { return c.BookID }
func (c ReturnBookCopy) bookID() uuid.UUID { return c.BookID }

// Decision is the outcome of Decide. An idempotent decision has neither an event nor an error.
type Decision struct {
	Event DomainEvent
	Err   error
}

func (d Decision) HasEventToAppend() bool {
	return d.Event != nil
}

func (d Decision) IsIdempotent() bool {
	return d.Event == nil && d.Err == nil
}

// bookCopy is the state of one book copy projected from its stream.
type bookCopy struct {
	inCirculation bool
	lentTo        string
}

// Decide is the pure business logic of a book copy stream.
//
//	AddBookCopy:    fails if the copy is already in circulation
//	LendBookCopy:   no-op if already lent to this reader, fails if not in circulation or lent to someone else
//	ReturnBookCopy: no-op if not lent at all, fails if lent to another reader
func Decide(history []DomainEvent, command Command) Decision {
	s := project(history)

	switch c := command.(type) {
	case AddBookCopy:
		if s.inCirculation {
			return Decision{Err: ErrBookAlreadyInCirculation}
		}

		return Decision{Event: BuildBookCopyAddedToCirculation(c.BookID, c.ISBN, c.Title, c.OccurredAt)}

	case LendBookCopy:
		switch {
		case !s.inCirculation:
			return Decision{Err: ErrBookNotInCirculation}
		case s.lentTo == c.ReaderID.String():
			return Decision{}
		case s.lentTo != "":
			return Decision{Err: ErrBookAlreadyLent}
		}

		return Decision{Event: BuildBookCopyLentToReader(c.BookID, c.ReaderID, c.OccurredAt)}

	case ReturnBookCopy:
		switch {
		case s.lentTo == "":
			return Decision{}
		case s.lentTo != c.ReaderID.String():
			return Decision{Err: ErrBookNotLentToReader}
		}

		return Decision{Event: BuildBookCopyReturnedByReader(c.BookID, c.ReaderID, c.OccurredAt)}
	}

	return Decision{}
}

func project(history []DomainEvent) bookCopy {
	var s bookCopy

	for _, event := range history {
		switch e := event.(type) {
		case BookCopyAddedToCirculation:
			s.inCirculation = true
		case BookCopyLentToReader:
			s.lentTo = e.ReaderID
		case BookCopyReturnedByReader:
			s.lentTo = ""
		}
	}

	return s
}
