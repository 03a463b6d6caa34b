package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/newsdex/internal/config"
)

var flagOlderThan string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove records older than the retention horizon",
	Long: `Delete records published before now minus the retention horizon, together with
their timeline entries. Categories left empty are dropped.

Uses retention.max_age from config (default: 7d) unless overridden with --older-than.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		maxAge := cfg.Retention.MaxAge.Std()
		if flagOlderThan != "" {
			d, err := config.ParseDuration(flagOlderThan)
			if err != nil {
				return fmt.Errorf("invalid --older-than value: %w", err)
			}
			maxAge = d
		}

		e, st, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := e.Sweep(cmd.Context(), maxAge)
		if err != nil {
			return fmt.Errorf("sweeping: %w", err)
		}
		out := cmd.OutOrStdout()
		if res.Deleted == 0 {
			fmt.Fprintln(out, "Nothing to sweep.")
			return nil
		}
		fmt.Fprintf(out, "Swept %d record(s) older than %s across %d categories (%d emptied).\n",
			res.Deleted, formatDuration(maxAge), res.CategoriesVisited, res.CategoriesPruned)
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&flagOlderThan, "older-than", "", "override the retention horizon (e.g., 30d, 720h)")
}

func formatDuration(d time.Duration) string {
	if days := int(d.Hours() / 24); days > 0 && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return d.String()
}
