package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	es "github.com/shogotsuneto/go-simple-eventstore"
	"go.opentelemetry.io/otel/metric"
)

// Worker repeatedly pulls envelopes from an event source and hands them to the
// observer registered for their stream.
// Each event is applied in its own store transaction by the observer; the
// Worker only commits the source cursor once the whole batch is applied.
type Worker struct {
	Source        es.Consumer   // event source (Postgres, DynamoDB Streams, Kafka…)
	Handlers      Registry      // stream -> observer
	Start         es.Cursor     // starting source cursor
	Initial       State         // offsets loaded from the store
	BatchSize     int           // default: 512
	IdleSleep     time.Duration // default: 200ms between empty polls
	MaxBatches    int           // 0 = unlimited (useful for tests/cron)
	MaxRetries    int           // retries of a timed out transaction; default 3, negative disables
	RetryInterval time.Duration // initial retry backoff; default 500ms
	Meter         metric.Meter  // optional, defaults to the global meter
	OnState       func(State)   // optional, called after every committed batch
	Logger        func(msg string, kv ...any) // optional, nil-safe

	mu    sync.Mutex
	state State
}

// State returns the offsets reached so far.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run pulls events and applies them batch by batch.
// Flow: Fetch -> Apply (observers persist data+offset per event) -> Commit (source) -> advance.
func (w *Worker) Run(ctx context.Context) error {
	// Set defaults
	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 512
	}

	idleSleep := w.IdleSleep
	if idleSleep <= 0 {
		idleSleep = 200 * time.Millisecond
	}

	metrics, err := newWorkerMetrics(w.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	cursor := w.Start
	state := NewState(w.Initial.offsets)
	w.setState(state)
	batchCount := 0

	w.logf("worker starting", "batchSize", batchSize, "idleSleep", idleSleep, "maxBatches", w.MaxBatches, "streams", w.Handlers.Streams())

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			w.logf("worker stopped due to context cancellation")
			return ctx.Err()
		default:
		}

		// Check MaxBatches limit
		if w.MaxBatches > 0 && batchCount >= w.MaxBatches {
			w.logf("worker stopped after reaching MaxBatches", "maxBatches", w.MaxBatches, "processed", batchCount)
			return nil
		}

		// Fetch batch from source
		batch, next, err := w.Source.Fetch(ctx, cursor, batchSize)
		if err != nil {
			w.logf("fetch error", "error", err)
			return err
		}

		// If no events, sleep and continue
		if len(batch) == 0 {
			w.logf("no events fetched, sleeping", "idleSleep", idleSleep)

			select {
			case <-ctx.Done():
				w.logf("worker stopped due to context cancellation during idle sleep")
				return ctx.Err()
			case <-time.After(idleSleep):
			}
			continue
		}

		w.logf("fetched batch", "eventCount", len(batch))
		metrics.events.Add(ctx, int64(len(batch)))

		// Apply each run of envelopes through its stream's observer
		state, err = w.applyWithRetry(ctx, metrics, state, batch)
		w.setState(state)
		metrics.recordState(ctx, state)
		if err != nil {
			metrics.recordFailure(ctx, err)
			w.logf("apply error", "error", err, "errorKind", ErrorKind(err), "eventCount", len(batch))
			return err
		}

		w.logf("applied batch successfully", "eventCount", len(batch))

		// Commit to source (may be no-op for some sources)
		err = w.Source.Commit(ctx, next)
		if err != nil {
			w.logf("commit error", "error", err)
			return err
		}

		// Advance cursor and increment batch count
		cursor = next
		batchCount++
		metrics.batches.Add(ctx, 1)
		if w.OnState != nil {
			w.OnState(state)
		}

		w.logf("batch processed", "batchCount", batchCount, "cursorAdvanced", true)
	}
}

// applyWithRetry retries a batch while it fails with a retryable error.
// Events committed by an earlier attempt are skipped by the observers, so a
// retry resumes right after the last committed event.
func (w *Worker) applyWithRetry(ctx context.Context, metrics *workerMetrics, state State, batch []es.Envelope) (State, error) {
	maxRetries := w.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	interval := w.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval

	_, err := backoff.Retry(ctx, func() (State, error) {
		next, err := w.apply(ctx, state, batch)
		state = next
		if err != nil && !IsRetryable(err) {
			return next, backoff.Permanent(err)
		}
		return next, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries)+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.retries.Add(ctx, 1)
			w.logf("retrying batch", "error", err, "after", d)
		}),
	)
	return state, err
}

// apply dispatches consecutive envelopes of the same type to their handler.
func (w *Worker) apply(ctx context.Context, state State, batch []es.Envelope) (State, error) {
	for start := 0; start < len(batch); {
		end := start + 1
		for end < len(batch) && batch[end].Type == batch[start].Type {
			end++
		}
		run := batch[start:end]
		start = end

		h, ok := w.Handlers[Kind(run[0].Type)]
		if !ok {
			w.logf("skipping unknown event type", "type", run[0].Type, "eventCount", len(run))
			continue
		}

		next, err := h.Handle(ctx, state, run)
		state = state.Merge(next)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// logf is a nil-safe logging helper
func (w *Worker) logf(msg string, kv ...any) {
	if w.Logger != nil {
		w.Logger(msg, kv...)
	}
}
