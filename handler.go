package indexer

import (
	"context"
	"fmt"

	es "github.com/shogotsuneto/go-simple-eventstore"
)

// Handler applies raw envelopes of one stream. It is the type-erased form of
// an Observer used by the Worker to dispatch on es.Envelope.Type.
type Handler interface {
	Stream() Kind
	Handle(ctx context.Context, state State, batch []es.Envelope) (State, error)
}

type boundObserver[T any] struct {
	o Observer[T]
}

// Bind adapts an Observer to a Handler that decodes envelopes with DecodeEvent.
func Bind[T any](o Observer[T]) Handler {
	return boundObserver[T]{o: o}
}

func (b boundObserver[T]) Stream() Kind { return b.o.Stream() }

func (b boundObserver[T]) Handle(ctx context.Context, state State, batch []es.Envelope) (State, error) {
	events := make([]Event[T], 0, len(batch))
	for _, env := range batch {
		ev, err := DecodeEvent[T](env)
		if err != nil {
			return state, fmt.Errorf("failed to decode %s event: %w", b.o.Stream(), err)
		}
		events = append(events, ev)
	}
	return b.o.ProcessAll(ctx, state, events)
}

// Registry maps a stream kind to its handler.
type Registry map[Kind]Handler

// NewRegistry indexes handlers by stream and rejects duplicates.
func NewRegistry(handlers ...Handler) (Registry, error) {
	r := make(Registry, len(handlers))
	for _, h := range handlers {
		if _, ok := r[h.Stream()]; ok {
			return nil, fmt.Errorf("duplicate handler for stream %s", h.Stream())
		}
		r[h.Stream()] = h
	}
	return r, nil
}

// Streams lists the registered streams.
func (r Registry) Streams() []Kind {
	s := State{offsets: make(map[Kind]int64, len(r))}
	for k := range r {
		s.offsets[k] = 0
	}
	return s.Streams()
}
