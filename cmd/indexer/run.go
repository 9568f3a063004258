package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
	"github.com/shogotsuneto/go-simple-es-indexer/market"
	es "github.com/shogotsuneto/go-simple-eventstore"
	"github.com/shogotsuneto/go-simple-eventstore/postgres"
)

func newRunCommand(load loader) *cobra.Command {
	var (
		duration   time.Duration
		maxBatches int
		report     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume events and index them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureStreams(ctx, market.Streams()...); err != nil {
				return err
			}
			state, err := store.LoadState(ctx)
			if err != nil {
				return err
			}
			cursor, err := store.LoadCursor(ctx, cfg.EventStore.Consumer)
			if err != nil {
				return err
			}

			src, err := postgres.NewPostgresEventConsumer(postgres.Config{
				ConnectionString: cfg.EventStore.URL,
				TableName:        cfg.EventStore.Table,
			})
			if err != nil {
				return fmt.Errorf("failed to create postgres event consumer: %w", err)
			}

			registry, err := indexer.NewRegistry(market.Handlers(store, market.Options{
				CurationRoot: cfg.Market.CurationRoot,
				AptosChain:   cfg.Market.AptosChain,
				EVMChain:     cfg.Market.EVMChain,
				TxTimeout:    cfg.Indexer.TxTimeout,
			})...)
			if err != nil {
				return err
			}

			worker := &indexer.Worker{
				Source:        checkpointed{Consumer: src, cursors: store, name: cfg.EventStore.Consumer},
				Handlers:      registry,
				Start:         cursor,
				Initial:       state,
				BatchSize:     cfg.Indexer.BatchSize,
				IdleSleep:     cfg.Indexer.IdleSleep,
				MaxBatches:    maxBatches,
				MaxRetries:    workerRetries(cfg.Indexer.MaxRetries),
				RetryInterval: cfg.Indexer.RetryInterval,
				Logger:        workerLogger(log),
			}

			log.Info("starting indexer", "cursor", string(cursor), "offsets", state.Offsets())
			err = runWorker(ctx, log, worker, report)
			if errors.Is(err, context.DeadlineExceeded) && duration > 0 {
				log.Info("indexer stopped after duration", "duration", duration)
				return nil
			}
			if errors.Is(err, context.Canceled) {
				log.Info("indexer interrupted")
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "stop after this many batches (0 = unlimited)")
	cmd.Flags().DurationVar(&report, "report-interval", 30*time.Second, "how often to log stream offsets")
	return cmd
}

// workerRetries converts the configured retry count to Worker.MaxRetries,
// which reads 0 as "use the default" and a negative value as none.
func workerRetries(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

// runWorker runs w next to a reporter that logs its offsets every interval.
// Both stop when the worker returns.
func runWorker(ctx context.Context, log *slog.Logger, w *indexer.Worker, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return w.Run(gctx)
	})

	g.Go(func() error {
		if interval <= 0 {
			return nil
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				log.Info("final offsets", "offsets", w.State().Offsets())
				return nil
			case <-t.C:
				log.Info("offsets", "offsets", w.State().Offsets())
			}
		}
	})

	return g.Wait()
}

type cursorStore interface {
	SaveCursor(ctx context.Context, name string, cursor es.Cursor) error
}

// checkpointed saves the source cursor after every successful Commit so a
// restart resumes near where it stopped. Events before the saved cursor that
// are replayed anyway are skipped by their stream offsets.
type checkpointed struct {
	es.Consumer
	cursors cursorStore
	name    string
}

func (c checkpointed) Commit(ctx context.Context, cursor es.Cursor) error {
	if err := c.Consumer.Commit(ctx, cursor); err != nil {
		return err
	}
	return c.cursors.SaveCursor(ctx, c.name, cursor)
}
