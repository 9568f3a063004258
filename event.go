package indexer

import (
	"encoding/json"
	"fmt"
	"strconv"

	es "github.com/shogotsuneto/go-simple-eventstore"
)

// Kind identifies an event stream. Each stream carries its own offset.
type Kind string

// Event is an immutable envelope around a typed payload.
// SequenceNumber is strictly increasing within a stream.
type Event[T any] struct {
	SequenceNumber int64
	Data           T
}

// wireEvent is the JSON layout carried in es.Envelope.Data.
type wireEvent struct {
	SequenceNumber json.RawMessage `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
}

// validator is implemented by payloads that check themselves after decoding.
type validator interface {
	Validate() error
}

// DecodeEvent parses an envelope produced by the event source into a typed event.
// The sequence number may be encoded as a JSON number or a decimal string.
func DecodeEvent[T any](env es.Envelope) (Event[T], error) {
	var ev Event[T]

	var w wireEvent
	if err := json.Unmarshal(env.Data, &w); err != nil {
		return ev, fmt.Errorf("failed to unmarshal envelope %s: %w", env.EventID, err)
	}

	seq, err := parseSequence(w.SequenceNumber)
	if err != nil {
		return ev, fmt.Errorf("envelope %s: %w", env.EventID, err)
	}

	if len(w.Data) == 0 {
		return ev, fmt.Errorf("envelope %s: missing data", env.EventID)
	}
	if err := json.Unmarshal(w.Data, &ev.Data); err != nil {
		return ev, fmt.Errorf("failed to unmarshal %s payload of envelope %s: %w", env.Type, env.EventID, err)
	}
	if v, ok := any(&ev.Data).(validator); ok {
		if err := v.Validate(); err != nil {
			return ev, fmt.Errorf("invalid %s payload of envelope %s: %w", env.Type, env.EventID, err)
		}
	}

	ev.SequenceNumber = seq
	return ev, nil
}

// EncodeEvent is the inverse of DecodeEvent, used by producers.
func EncodeEvent[T any](ev Event[T]) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(wireEvent{
		SequenceNumber: json.RawMessage(strconv.Quote(strconv.FormatInt(ev.SequenceNumber, 10))),
		Data:           data,
	})
}

func parseSequence(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing sequence_number")
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("invalid sequence_number %s: %w", raw, err)
		}
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence_number %s: %w", raw, err)
	}
	if seq < 0 {
		return 0, fmt.Errorf("negative sequence_number %d", seq)
	}
	return seq, nil
}
