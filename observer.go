package indexer

import (
	"context"
	"strconv"
)

// Observer applies the events of one stream to the store.
//
// Process applies a single event inside one store transaction: the entity
// upsert, the offset advance and any derived side effect either all commit or
// all roll back. ProcessAll applies a batch in order and is normally
// implemented with Fold.
type Observer[T any] interface {
	Stream() Kind
	ProcessAll(ctx context.Context, state State, events []Event[T]) (State, error)
	Process(ctx context.Context, state State, event Event[T]) (State, bool, error)
}

// Fold applies events one at a time through o.Process, in the given order.
//
// Events at or below the recorded offset were already applied and are skipped.
// The batch must be strictly increasing. On failure Fold returns the State
// reached by the events that did commit, together with the error.
func Fold[T any](ctx context.Context, o Observer[T], state State, events []Event[T]) (State, error) {
	stream := o.Stream()
	for i := 1; i < len(events); i++ {
		if events[i].SequenceNumber <= events[i-1].SequenceNumber {
			return state, &InvariantViolation{
				EventContext: EventContext{Stream: stream, Sequence: events[i].SequenceNumber, Payload: events[i].Data},
				Entity:       "batch",
				Key:          strconv.Itoa(i),
				Field:        "sequence_number",
				Want:         "> " + strconv.FormatInt(events[i-1].SequenceNumber, 10),
				Got:          strconv.FormatInt(events[i].SequenceNumber, 10),
			}
		}
	}

	for _, ev := range events {
		if ev.SequenceNumber <= state.Offset(stream) {
			continue
		}
		next, applied, err := o.Process(ctx, state, ev)
		if err != nil {
			return state, Annotate(err, stream, ev.SequenceNumber, ev.Data)
		}
		if applied {
			state = next
		}
	}
	return state, nil
}
