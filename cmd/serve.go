package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/newsdex/internal/config"
	"github.com/bryan-buckman/newsdex/internal/ingest"
	"github.com/bryan-buckman/newsdex/internal/retention"
	"github.com/bryan-buckman/newsdex/internal/server"
)

var (
	flagAddr     string
	flagNoPoll   bool
	flagNoSweeps bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, feed poller and retention sweeper",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&flagNoPoll, "no-poll", false, "do not poll feeds")
	serveCmd.Flags().BoolVar(&flagNoSweeps, "no-sweep", false, "do not run scheduled retention sweeps")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, st, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := retention.NewScheduler(e.Sweeper(), cfg.Retention.MaxAge.Std(), cfg.Retention.Interval.Std())
	if !flagNoSweeps {
		// The store closes only after an in-flight sweep returns.
		wait := background(ctx, sched.Run)
		defer func() {
			cancel()
			wait()
		}()
	}

	fetcher := ingest.NewFetcher(e, cfg.Ingest.Concurrency)
	poller := ingest.NewPoller(fetcher, sources(cfg), cfg.Ingest.Interval.Std())
	if !flagNoPoll {
		poller.Start()
		defer poller.Stop()
	}

	if path := configPath(); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				sched.Configure(next.Retention.MaxAge.Std(), next.Retention.Interval.Std())
				poller.Configure(sources(next), next.Ingest.Interval.Std())
				slog.Info("serve: applied config", "max_age", next.Retention.MaxAge.Std(), "sources", len(next.EnabledSources()))
			})
			if err != nil {
				slog.Warn("serve: config watch disabled", "path", path, "err", err)
			}
		}()
	}

	srv, err := server.New(e, server.Options{
		Title:       cfg.Server.Title,
		PageSize:    cfg.Server.PageSize,
		MaxPageSize: cfg.Server.MaxPageSize,
		MaxAge:      sched.MaxAge,
		Deadline:    cfg.Server.Deadline.Std(),
		Refresh: func(ctx context.Context) (int, error) {
			return refresh(ctx, fetcher, poller.Sources())
		},
	})
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}
	slog.Info("serve: starting", "backend", e.Backend(), "addr", addr)
	if err := srv.Run(ctx, addr); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// configPath is the file to watch, or "" when none exists.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func sources(cfg *config.Config) []ingest.Source {
	var out []ingest.Source
	for _, s := range cfg.EnabledSources() {
		out = append(out, ingest.Source{Name: s.Name, URL: s.URL, Category: s.Category})
	}
	return out
}

// refresh runs one fetch pass and totals the saved records. It fails only
// when every source failed.
func refresh(ctx context.Context, f *ingest.Fetcher, srcs []ingest.Source) (int, error) {
	results, err := f.FetchAll(ctx, srcs)
	if err != nil {
		return 0, err
	}
	saved, failed := 0, 0
	var last error
	for _, r := range results {
		saved += r.Saved
		if r.Err != nil {
			failed++
			last = r.Err
		}
	}
	if failed > 0 && failed == len(results) {
		return saved, fmt.Errorf("all %d sources failed, last: %w", failed, last)
	}
	return saved, nil
}

// background runs fn on its own goroutine. The returned wait blocks until
// fn has returned.
func background(ctx context.Context, fn func(context.Context)) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() { <-done }
}
