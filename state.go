package indexer

import (
	"sort"
	"strconv"
)

// NoOffset is the offset of a stream with no applied events.
const NoOffset int64 = -1

// State holds the last durably applied sequence number per stream.
// It is a value: Advance and Merge return a new State and never touch the receiver.
type State struct {
	offsets map[Kind]int64
}

// NewState copies offsets into a new State.
func NewState(offsets map[Kind]int64) State {
	s := State{offsets: make(map[Kind]int64, len(offsets))}
	for k, v := range offsets {
		s.offsets[k] = v
	}
	return s
}

// Offset returns the recorded offset for stream k, or NoOffset when unknown.
func (s State) Offset(k Kind) int64 {
	if v, ok := s.offsets[k]; ok {
		return v
	}
	return NoOffset
}

// Has reports whether the State carries an offset for k.
func (s State) Has(k Kind) bool {
	_, ok := s.offsets[k]
	return ok
}

// Advance returns a copy of s with the offset of k set to seq.
// An offset never regresses.
func (s State) Advance(k Kind, seq int64) (State, error) {
	if cur := s.Offset(k); seq < cur {
		return s, &InvariantViolation{
			EventContext: EventContext{Stream: k, Sequence: seq},
			Entity:       "offset",
			Key:          string(k),
			Field:        "executed_offset",
			Want:         ">= " + strconv.FormatInt(cur, 10),
			Got:          strconv.FormatInt(seq, 10),
		}
	}
	next := NewState(s.offsets)
	next.offsets[k] = seq
	return next, nil
}

// Merge combines two States, keeping the larger offset per stream.
func (s State) Merge(o State) State {
	next := NewState(s.offsets)
	for k, v := range o.offsets {
		if cur, ok := next.offsets[k]; !ok || v > cur {
			next.offsets[k] = v
		}
	}
	return next
}

// Offsets returns a copy of all offsets.
func (s State) Offsets() map[Kind]int64 {
	return NewState(s.offsets).offsets
}

// Streams returns the known streams in lexical order.
func (s State) Streams() []Kind {
	kinds := make([]Kind, 0, len(s.offsets))
	for k := range s.offsets {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
