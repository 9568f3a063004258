package indexer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/shogotsuneto/go-simple-es-indexer"

type workerMetrics struct {
	batches  metric.Int64Counter
	events   metric.Int64Counter
	failures metric.Int64Counter
	retries  metric.Int64Counter
	offset   metric.Int64Gauge
}

func newWorkerMetrics(m metric.Meter) (*workerMetrics, error) {
	if m == nil {
		m = otel.Meter(meterName)
	}
	var (
		wm  workerMetrics
		err error
	)
	if wm.batches, err = m.Int64Counter("indexer.batches",
		metric.WithDescription("Batches applied and committed to the source")); err != nil {
		return nil, err
	}
	if wm.events, err = m.Int64Counter("indexer.events",
		metric.WithDescription("Envelopes handed to observers")); err != nil {
		return nil, err
	}
	if wm.failures, err = m.Int64Counter("indexer.failures",
		metric.WithDescription("Failed batch applications by error kind")); err != nil {
		return nil, err
	}
	if wm.retries, err = m.Int64Counter("indexer.retries",
		metric.WithDescription("Retried batch applications")); err != nil {
		return nil, err
	}
	if wm.offset, err = m.Int64Gauge("indexer.offset",
		metric.WithDescription("Last applied sequence number per stream")); err != nil {
		return nil, err
	}
	return &wm, nil
}

func (wm *workerMetrics) recordState(ctx context.Context, s State) {
	for _, k := range s.Streams() {
		wm.offset.Record(ctx, s.Offset(k), metric.WithAttributes(attribute.String("stream", string(k))))
	}
}

func (wm *workerMetrics) recordFailure(ctx context.Context, err error) {
	wm.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ErrorKind(err))))
}
