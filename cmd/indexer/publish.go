package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
	es "github.com/shogotsuneto/go-simple-eventstore"
	"github.com/shogotsuneto/go-simple-eventstore/postgres"
)

// publishLine is one line of a publish input file.
type publishLine struct {
	Stream         indexer.Kind    `json:"stream"`
	SequenceNumber int64           `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
}

func newPublishCommand(load loader) *cobra.Command {
	var (
		file     string
		streamID string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Append marketplace events from a JSON-lines file to the event store",
		Long: `Each input line is {"stream": "<kind>", "sequence_number": <n>, "data": {...}}.
Lines are appended in order as one batch; use - to read stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			events, err := readEvents(r, time.Now())
			if err != nil {
				return err
			}
			if len(events) == 0 {
				log.Info("nothing to publish")
				return nil
			}

			eventStore, err := postgres.NewPostgresEventStore(postgres.Config{
				ConnectionString: cfg.EventStore.URL,
				TableName:        cfg.EventStore.Table,
			})
			if err != nil {
				return fmt.Errorf("failed to create event store: %w", err)
			}

			// -1 means any version, no concurrency check
			if _, err := eventStore.Append(streamID, events, -1); err != nil {
				return fmt.Errorf("failed to append events to stream %s: %w", streamID, err)
			}
			log.Info("published", "stream", streamID, "events", len(events))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON-lines input")
	cmd.Flags().StringVar(&streamID, "stream-id", "marketplace", "event store stream to append to")
	return cmd
}

// readEvents converts JSON lines into event store events whose Data is the
// envelope the Worker decodes.
func readEvents(r io.Reader, now time.Time) ([]es.Event, error) {
	var events []es.Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for n := 1; sc.Scan(); n++ {
		text := sc.Bytes()
		if len(text) == 0 {
			continue
		}
		var line publishLine
		if err := json.Unmarshal(text, &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if line.Stream == "" || len(line.Data) == 0 {
			return nil, fmt.Errorf("line %d: stream and data are required", n)
		}
		data, err := indexer.EncodeEvent(indexer.Event[json.RawMessage]{SequenceNumber: line.SequenceNumber, Data: line.Data})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		events = append(events, es.Event{
			Type: string(line.Stream),
			Data: data,
			Metadata: map[string]string{
				"source":    "indexer-publish",
				"timestamp": now.Format(time.RFC3339),
			},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
