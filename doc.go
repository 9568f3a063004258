// Package indexer applies ordered streams of marketplace events to a store
// exactly once, recording a per-stream offset alongside every write so that
// processing resumes safely after a crash or restart.
//
// The pieces:
//   - Observer: applies one event kind; every event is one store transaction
//     holding the entity upsert, the offset advance and any derived side effect
//   - State: immutable per-stream offsets threaded through observers
//   - Worker: pulls envelopes from an event source, dispatches them through a
//     Registry of Handlers and commits the source cursor after each batch
//
// Entity writes are upserts keyed by natural keys taken from the event, so a
// replayed event leaves the store unchanged. Failures surface as
// *NotFoundError, *InvariantViolation or *TransactionTimeout; only the last is
// retried by the Worker.
//
// This package depends on github.com/shogotsuneto/go-simple-eventstore for
// the Consumer interface and envelope types.
package indexer
