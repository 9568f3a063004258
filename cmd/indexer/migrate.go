package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
	"github.com/shogotsuneto/go-simple-es-indexer/market"
)

func newMigrateCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and seed an offset row per stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context(), market.Streams()...); err != nil {
				return err
			}
			log.Info("migrated", "driver", store.Dialect().String(), "streams", market.Streams())
			return nil
		},
	}
}

func newOffsetsCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Show the executed offset of every stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			state, err := store.LoadState(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STREAM\tOFFSET")
			for _, stream := range state.Streams() {
				offset := "-"
				if v := state.Offset(stream); v != indexer.NoOffset {
					offset = strconv.FormatInt(v, 10)
				}
				fmt.Fprintf(w, "%s\t%s\n", stream, offset)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <stream> <offset>",
		Short: "Overwrite a stream's offset, e.g. to start a fresh deployment at a given block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || seq < indexer.NoOffset {
				return fmt.Errorf("invalid offset %q", args[1])
			}
			cfg, log, err := load()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetOffset(cmd.Context(), indexer.Kind(args[0]), seq); err != nil {
				return err
			}
			log.Info("offset set", "stream", args[0], "offset", seq)
			return nil
		},
	})
	return cmd
}
