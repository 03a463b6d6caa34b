package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryan-buckman/newsdex/internal/config"
	"github.com/bryan-buckman/newsdex/internal/opml"
)

var flagDefaultCategory string

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Convert feed sources to and from OPML",
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Print an OPML subscription list as ingest.sources YAML",
	Long: `Read an OPML file and print the feeds as an ingest.sources block to paste into the
config. Each feed's top-level folder becomes its category.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		feeds, err := opml.Parse(f, flagDefaultCategory)
		if err != nil {
			return err
		}
		srcs := make([]config.Source, len(feeds))
		for i, fd := range feeds {
			srcs[i] = config.Source{Name: fd.Name, URL: fd.URL, Category: fd.Category, Enabled: true}
		}
		doc := map[string]any{"ingest": map[string]any{"sources": srcs}}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding sources: %w", err)
		}
		return enc.Close()
	},
}

var sourcesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the configured sources as OPML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		feeds := make([]opml.Feed, 0, len(cfg.Ingest.Sources))
		for _, s := range cfg.Ingest.Sources {
			feeds = append(feeds, opml.Feed{Name: s.Name, URL: s.URL, Category: s.Category})
		}
		out, err := opml.Export(cfg.Server.Title+" sources", feeds, time.Now())
		if err != nil {
			return fmt.Errorf("exporting: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	sourcesImportCmd.Flags().StringVar(&flagDefaultCategory, "category", "general", "category for feeds outside any folder")
	sourcesCmd.AddCommand(sourcesImportCmd)
	sourcesCmd.AddCommand(sourcesExportCmd)
	rootCmd.AddCommand(sourcesCmd)
}
