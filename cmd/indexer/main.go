// Command indexer applies marketplace events from go-simple-eventstore to a
// SQL store, checkpointing a per-stream offset with every event.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shogotsuneto/go-simple-es-indexer/internal/config"
	"github.com/shogotsuneto/go-simple-es-indexer/sqlstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Marketplace event indexer",
		Long:          "Applies marketplace events to a SQL store exactly once per stream offset.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or JSON config file (environment variables override it)")

	load := func() (config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, newLogger(cfg.LogLevel), nil
	}

	root.AddCommand(newRunCommand(load))
	root.AddCommand(newMigrateCommand(load))
	root.AddCommand(newOffsetsCommand(load))
	root.AddCommand(newPublishCommand(load))
	return root
}

type loader func() (config.Config, *slog.Logger, error)

func openStore(ctx context.Context, cfg config.Config) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// workerLogger adapts slog to the Worker's key/value logger.
func workerLogger(l *slog.Logger) func(msg string, kv ...any) {
	return func(msg string, kv ...any) {
		switch {
		case strings.HasSuffix(msg, " error"):
			l.Error(msg, kv...)
		case strings.HasPrefix(msg, "no events fetched"), msg == "fetched batch", msg == "applied batch successfully":
			l.Debug(msg, kv...)
		default:
			l.Info(msg, kv...)
		}
	}
}
