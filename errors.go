package indexer

import (
	"errors"
	"fmt"
	"time"
)

// EventContext identifies the event an error was raised for.
type EventContext struct {
	Stream   Kind
	Sequence int64
	Payload  any
}

func (c *EventContext) eventContext() *EventContext { return c }

func (c EventContext) prefix() string {
	if c.Stream == "" {
		return ""
	}
	return fmt.Sprintf("%s event %d: ", c.Stream, c.Sequence)
}

// NotFoundError reports a missing parent entity or offset row.
// It signals an upstream ordering violation or a consistency bug and is not retryable.
type NotFoundError struct {
	EventContext
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s%s %s not found", e.prefix(), e.Entity, e.Key)
}

// InvariantViolation reports a write that succeeded but produced an unexpected value.
// It is not retryable.
type InvariantViolation struct {
	EventContext
	Entity string
	Key    string
	Field  string
	Want   string
	Got    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s%s %s: %s is %q, want %q", e.prefix(), e.Entity, e.Key, e.Field, e.Got, e.Want)
}

// TransactionTimeout reports a store transaction that exceeded its bound.
// Nothing was applied; the event is safe to retry from the same sequence number.
type TransactionTimeout struct {
	EventContext
	Timeout time.Duration
	Err     error
}

func (e *TransactionTimeout) Error() string {
	return fmt.Sprintf("%stransaction exceeded %s: %v", e.prefix(), e.Timeout, e.Err)
}

func (e *TransactionTimeout) Unwrap() error { return e.Err }

type annotatable interface {
	eventContext() *EventContext
}

// Annotate attaches the event to the first typed error in err's chain when it
// does not carry one yet. Untyped errors are wrapped with the stream and
// sequence number instead.
func Annotate(err error, stream Kind, seq int64, payload any) error {
	if err == nil {
		return nil
	}
	var a annotatable
	if errors.As(err, &a) {
		if c := a.eventContext(); c.Stream == "" {
			*c = EventContext{Stream: stream, Sequence: seq, Payload: payload}
		}
		return err
	}
	return &applyError{EventContext: EventContext{Stream: stream, Sequence: seq, Payload: payload}, err: err}
}

// applyError wraps an untyped error with the event it was raised for.
// It carries an EventContext, so annotating it again is a no-op.
type applyError struct {
	EventContext
	err error
}

func (e *applyError) Error() string {
	return fmt.Sprintf("failed to apply %s event %d: %v", e.Stream, e.Sequence, e.err)
}

func (e *applyError) Unwrap() error { return e.err }

// IsRetryable reports whether the orchestrator may retry the failed event.
func IsRetryable(err error) bool {
	var timeout *TransactionTimeout
	return errors.As(err, &timeout)
}

// ErrorKind names the taxonomy bucket of err for logs and metrics.
func ErrorKind(err error) string {
	var (
		notFound  *NotFoundError
		invariant *InvariantViolation
		timeout   *TransactionTimeout
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invariant):
		return "invariant_violation"
	case errors.As(err, &timeout):
		return "transaction_timeout"
	default:
		return "other"
	}
}
