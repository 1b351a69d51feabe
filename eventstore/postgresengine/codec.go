package postgresengine

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

var (
	// ErrEncodingCommitFailed is returned when the headers or events of a commit cannot be encoded as JSON.
	ErrEncodingCommitFailed = errors.New("encoding commit failed")

	// ErrDecodingCommitFailed is returned when a stored commit cannot be decoded.
	ErrDecodingCommitFailed = errors.New("decoding commit failed")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// storedEvent is the JSON shape of one EventMessage inside the payload column.
type storedEvent struct {
	Headers eventstore.Headers `json:"headers,omitempty"`
	Body    any                `json:"body"`
}

// loadedEvent is storedEvent on the way back; the body stays raw JSON.
type loadedEvent struct {
	Headers eventstore.Headers  `json:"headers,omitempty"`
	Body    jsoniter.RawMessage `json:"body"`
}

func encodeHeaders(headers eventstore.Headers) (string, error) {
	if headers == nil {
		headers = eventstore.Headers{}
	}

	encoded, err := json.Marshal(headers)
	if err != nil {
		return "", errors.Join(ErrEncodingCommitFailed, err)
	}

	return string(encoded), nil
}

func encodeEvents(events []eventstore.EventMessage) (string, error) {
	stored := make([]storedEvent, 0, len(events))
	for _, event := range events {
		stored = append(stored, storedEvent{Headers: event.Headers, Body: event.Body})
	}

	encoded, err := json.Marshal(stored)
	if err != nil {
		return "", errors.Join(ErrEncodingCommitFailed, err)
	}

	return string(encoded), nil
}

func decodeHeaders(raw []byte) (eventstore.Headers, error) {
	headers := eventstore.Headers{}

	if len(raw) == 0 {
		return headers, nil
	}

	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, errors.Join(ErrDecodingCommitFailed, err)
	}

	return headers, nil
}

// decodeEvents returns the events with their bodies as jsoniter.RawMessage; callers unmarshal
// them into their own types.
func decodeEvents(raw []byte) ([]eventstore.EventMessage, error) {
	var loaded []loadedEvent

	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, errors.Join(ErrDecodingCommitFailed, err)
	}

	events := make([]eventstore.EventMessage, 0, len(loaded))
	for _, event := range loaded {
		events = append(events, eventstore.EventMessage{Headers: event.Headers, Body: event.Body})
	}

	return events, nil
}

func encodeSnapshotPayload(payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Join(eventstore.ErrSavingSnapshotFailed, err)
	}

	return string(encoded), nil
}
