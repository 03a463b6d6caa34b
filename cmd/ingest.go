package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/newsdex/internal/ingest"
)

var flagIngestTimeout time.Duration

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch every enabled source once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		srcs := sources(cfg)
		if len(srcs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No enabled sources.")
			return nil
		}
		e, st, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), flagIngestTimeout)
		defer cancel()
		f := ingest.NewFetcher(e, cfg.Ingest.Concurrency)
		results, err := f.FetchAll(ctx, srcs)
		if err != nil {
			return fmt.Errorf("ingesting: %w", err)
		}
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s error: %v\n", r.Source.Name, r.Err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d saved\n", r.Source.Name, r.Saved)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().DurationVar(&flagIngestTimeout, "timeout", 10*time.Minute, "give up after this long")
}
