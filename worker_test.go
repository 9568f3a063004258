package indexer

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	es "github.com/shogotsuneto/go-simple-eventstore"
)

// fakeConsumer implements es.Consumer for testing
type fakeConsumer struct {
	batches     [][]es.Envelope // pre-scripted batches to return
	cursors     []es.Cursor     // corresponding cursors for each batch
	batchIndex  int             // current batch index
	fetchErr    error           // error to return on Fetch
	commitErr   error           // error to return on Commit
	fetchCalls  []fetchCall     // record of all Fetch calls
	commitCalls []es.Cursor     // record of all Commit calls
}

type fetchCall struct {
	cursor es.Cursor
	limit  int
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		batches:     [][]es.Envelope{},
		cursors:     []es.Cursor{},
		fetchCalls:  []fetchCall{},
		commitCalls: []es.Cursor{},
	}
}

func (f *fakeConsumer) AddBatch(batch []es.Envelope, cursor es.Cursor) {
	f.batches = append(f.batches, batch)
	f.cursors = append(f.cursors, cursor)
}

func (f *fakeConsumer) SetFetchError(err error) {
	f.fetchErr = err
}

func (f *fakeConsumer) SetCommitError(err error) {
	f.commitErr = err
}

func (f *fakeConsumer) Fetch(ctx context.Context, cursor es.Cursor, limit int) ([]es.Envelope, es.Cursor, error) {
	f.fetchCalls = append(f.fetchCalls, fetchCall{cursor: cursor, limit: limit})

	if f.fetchErr != nil {
		return nil, nil, f.fetchErr
	}

	if f.batchIndex >= len(f.batches) {
		// Return empty batch (simulates no new events)
		return []es.Envelope{}, cursor, nil
	}

	batch := f.batches[f.batchIndex]
	nextCursor := f.cursors[f.batchIndex]
	f.batchIndex++

	return batch, nextCursor, nil
}

func (f *fakeConsumer) Commit(ctx context.Context, cursor es.Cursor) error {
	f.commitCalls = append(f.commitCalls, cursor)
	return f.commitErr
}

// fakeHandler advances its stream to the sequence number stored in EventID.
type fakeHandler struct {
	stream Kind
	errs   []error // returned by successive calls; nil once exhausted
	calls  [][]es.Envelope
}

func (h *fakeHandler) Stream() Kind { return h.stream }

func (h *fakeHandler) Handle(ctx context.Context, state State, batch []es.Envelope) (State, error) {
	h.calls = append(h.calls, batch)
	if n := len(h.calls); n <= len(h.errs) && h.errs[n-1] != nil {
		return state, h.errs[n-1]
	}
	for _, env := range batch {
		seq, err := strconv.ParseInt(env.EventID, 10, 64)
		if err != nil {
			return state, err
		}
		if state, err = state.Advance(h.stream, seq); err != nil {
			return state, err
		}
	}
	return state, nil
}

func registry(t *testing.T, handlers ...Handler) Registry {
	t.Helper()
	r, err := NewRegistry(handlers...)
	if err != nil {
		t.Fatalf("expected no error building registry, got %v", err)
	}
	return r
}

// Helper to create test events
func createTestEvent(eventID string, kind Kind) es.Envelope {
	return es.Envelope{
		EventID: eventID,
		Type:    string(kind),
		Data:    []byte(`{"sequence_number":"` + eventID + `","data":{}}`),
	}
}

func TestWorkerDefaults(t *testing.T) {
	consumer := newFakeConsumer()
	handler := &fakeHandler{stream: "offers"}

	worker := &Worker{
		Source:     consumer,
		Start:      es.Cursor("start"),
		Handlers:   registry(t, handler),
		MaxBatches: 1, // Process only one batch for this test
	}

	events := []es.Envelope{
		createTestEvent("1", "offers"),
		createTestEvent("2", "offers"),
	}
	consumer.AddBatch(events, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(consumer.fetchCalls) != 1 {
		t.Fatalf("expected 1 fetch call, got %d", len(consumer.fetchCalls))
	}

	fetchCall := consumer.fetchCalls[0]
	if string(fetchCall.cursor) != "start" {
		t.Errorf("expected first fetch with cursor 'start', got %q", fetchCall.cursor)
	}
	if fetchCall.limit != 512 { // default BatchSize
		t.Errorf("expected default batch size 512, got %d", fetchCall.limit)
	}

	if len(handler.calls) != 1 {
		t.Fatalf("expected 1 handle call, got %d", len(handler.calls))
	}
	if len(handler.calls[0]) != 2 {
		t.Errorf("expected 2 events in handled batch, got %d", len(handler.calls[0]))
	}

	if len(consumer.commitCalls) != 1 {
		t.Fatalf("expected 1 commit call, got %d", len(consumer.commitCalls))
	}
	if string(consumer.commitCalls[0]) != "cursor1" {
		t.Errorf("expected commit with cursor 'cursor1', got %q", consumer.commitCalls[0])
	}

	if got := worker.State().Offset("offers"); got != 2 {
		t.Errorf("expected offset 2, got %d", got)
	}
}

func TestWorkerCustomBatchSize(t *testing.T) {
	consumer := newFakeConsumer()

	worker := &Worker{
		Source:     consumer,
		Start:      es.Cursor("start"),
		BatchSize:  100,
		MaxBatches: 1,
		Handlers:   registry(t, &fakeHandler{stream: "offers"}),
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if consumer.fetchCalls[0].limit != 100 {
		t.Errorf("expected custom batch size 100, got %d", consumer.fetchCalls[0].limit)
	}
}

func TestWorkerFetchError(t *testing.T) {
	consumer := newFakeConsumer()
	expectedErr := errors.New("fetch failed")
	consumer.SetFetchError(expectedErr)
	handler := &fakeHandler{stream: "offers"}

	worker := &Worker{
		Source:   consumer,
		Start:    es.Cursor("start"),
		Handlers: registry(t, handler),
	}

	err := worker.Run(context.Background())
	if err != expectedErr {
		t.Errorf("expected fetch error %v, got %v", expectedErr, err)
	}
	if len(handler.calls) != 0 {
		t.Errorf("expected no handle calls when fetch fails, got %d", len(handler.calls))
	}
}

func TestWorkerApplyErrorIsNotRetried(t *testing.T) {
	consumer := newFakeConsumer()
	notFound := &NotFoundError{Entity: "token", Key: "creator/collection/name"}
	handler := &fakeHandler{stream: "offers", errs: []error{notFound}}

	worker := &Worker{
		Source:        consumer,
		Start:         es.Cursor("start"),
		Handlers:      registry(t, handler),
		RetryInterval: time.Millisecond,
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())

	var target *NotFoundError
	if !errors.As(err, &target) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if len(handler.calls) != 1 {
		t.Errorf("expected a single attempt for a non-retryable error, got %d", len(handler.calls))
	}
	if len(consumer.commitCalls) != 0 {
		t.Errorf("expected no commit calls when apply fails, got %d", len(consumer.commitCalls))
	}
}

func TestWorkerRetriesTransactionTimeout(t *testing.T) {
	consumer := newFakeConsumer()
	timeout := &TransactionTimeout{Timeout: time.Second, Err: context.DeadlineExceeded}
	handler := &fakeHandler{stream: "offers", errs: []error{timeout, timeout}}

	worker := &Worker{
		Source:        consumer,
		Start:         es.Cursor("start"),
		Handlers:      registry(t, handler),
		MaxBatches:    1,
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("7", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error after retries, got %v", err)
	}
	if len(handler.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(handler.calls))
	}
	if len(consumer.commitCalls) != 1 {
		t.Errorf("expected 1 commit call, got %d", len(consumer.commitCalls))
	}
	if got := worker.State().Offset("offers"); got != 7 {
		t.Errorf("expected offset 7, got %d", got)
	}
}

func TestWorkerRetriesExhausted(t *testing.T) {
	consumer := newFakeConsumer()
	timeout := &TransactionTimeout{Timeout: time.Second, Err: context.DeadlineExceeded}
	handler := &fakeHandler{stream: "offers", errs: []error{timeout, timeout, timeout}}

	worker := &Worker{
		Source:        consumer,
		Start:         es.Cursor("start"),
		Handlers:      registry(t, handler),
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if !IsRetryable(err) {
		t.Fatalf("expected *TransactionTimeout, got %v", err)
	}
	if len(handler.calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(handler.calls))
	}
	if len(consumer.commitCalls) != 0 {
		t.Errorf("expected no commit calls, got %d", len(consumer.commitCalls))
	}
}

func TestWorkerDispatchesByType(t *testing.T) {
	consumer := newFakeConsumer()
	offers := &fakeHandler{stream: "offers"}
	notices := &fakeHandler{stream: "notices"}

	worker := &Worker{
		Source:     consumer,
		Start:      es.Cursor("start"),
		Handlers:   registry(t, offers, notices),
		MaxBatches: 1,
	}

	consumer.AddBatch([]es.Envelope{
		createTestEvent("1", "offers"),
		createTestEvent("2", "offers"),
		createTestEvent("5", "notices"),
		createTestEvent("9", "unknown"),
		createTestEvent("3", "offers"),
	}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(offers.calls) != 2 || len(offers.calls[0]) != 2 || len(offers.calls[1]) != 1 {
		t.Errorf("expected offers to be handled as runs of 2 and 1, got %v", offers.calls)
	}
	if len(notices.calls) != 1 {
		t.Errorf("expected 1 notices call, got %d", len(notices.calls))
	}

	state := worker.State()
	if state.Offset("offers") != 3 || state.Offset("notices") != 5 {
		t.Errorf("unexpected offsets %v", state.Offsets())
	}
	if state.Has("unknown") {
		t.Errorf("unknown stream must not get an offset")
	}
}

func TestWorkerCommitError(t *testing.T) {
	consumer := newFakeConsumer()
	expectedErr := errors.New("commit failed")
	consumer.SetCommitError(expectedErr)
	handler := &fakeHandler{stream: "offers"}

	worker := &Worker{
		Source:   consumer,
		Start:    es.Cursor("start"),
		Handlers: registry(t, handler),
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != expectedErr {
		t.Errorf("expected commit error %v, got %v", expectedErr, err)
	}

	if len(handler.calls) != 1 {
		t.Errorf("expected handle to be called once before commit failed, got %d", len(handler.calls))
	}
}

func TestWorkerContextCancellation(t *testing.T) {
	consumer := newFakeConsumer()

	worker := &Worker{
		Source:    consumer,
		Start:     es.Cursor("start"),
		IdleSleep: 50 * time.Millisecond, // Short sleep for faster test
		Handlers:  registry(t, &fakeHandler{stream: "offers"}),
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := worker.Run(ctx)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWorkerMaxBatchesAndOnState(t *testing.T) {
	consumer := newFakeConsumer()
	var observed []int64

	worker := &Worker{
		Source:     consumer,
		Start:      es.Cursor("start"),
		Initial:    NewState(map[Kind]int64{"offers": 0}),
		MaxBatches: 2, // Process only 2 batches
		Handlers:   registry(t, &fakeHandler{stream: "offers"}),
		OnState: func(s State) {
			observed = append(observed, s.Offset("offers"))
		},
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))
	consumer.AddBatch([]es.Envelope{createTestEvent("2", "offers")}, es.Cursor("cursor2"))
	consumer.AddBatch([]es.Envelope{createTestEvent("3", "offers")}, es.Cursor("cursor3"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(observed) != 2 || observed[0] != 1 || observed[1] != 2 {
		t.Errorf("expected offsets [1 2], got %v", observed)
	}

	if string(consumer.fetchCalls[1].cursor) != "cursor1" {
		t.Errorf("expected second fetch from 'cursor1', got %q", consumer.fetchCalls[1].cursor)
	}
}

func TestWorkerLogger(t *testing.T) {
	consumer := newFakeConsumer()
	logs := []logEntry{}

	worker := &Worker{
		Source:     consumer,
		Start:      es.Cursor("start"),
		MaxBatches: 1,
		Handlers:   registry(t, &fakeHandler{stream: "offers"}),
		Logger: func(msg string, kv ...any) {
			logs = append(logs, logEntry{msg: msg, kv: kv})
		},
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(logs) == 0 {
		t.Error("expected some log entries, got none")
	}

	found := false
	for _, log := range logs {
		if log.msg == "worker starting" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'worker starting' log entry")
	}
}

func TestWorkerNilLogger(t *testing.T) {
	consumer := newFakeConsumer()

	worker := &Worker{
		Source:     consumer,
		Start:      es.Cursor("start"),
		MaxBatches: 1,
		Handlers:   registry(t, &fakeHandler{stream: "offers"}),
		Logger:     nil, // Nil logger should not cause panic
	}

	consumer.AddBatch([]es.Envelope{createTestEvent("1", "offers")}, es.Cursor("cursor1"))

	err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error with nil logger, got %v", err)
	}
}

type logEntry struct {
	msg string
	kv  []any
}
