package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MinInterval is the shortest allowed polling interval.
const MinInterval = 5 * time.Minute

// passTimeout bounds a single polling pass.
const passTimeout = 10 * time.Minute

// Poller fetches its sources periodically until stopped.
type Poller struct {
	fetcher *Fetcher

	mu       sync.Mutex
	sources  []Source
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a Poller. Call Start to begin polling.
func NewPoller(f *Fetcher, sources []Source, interval time.Duration) *Poller {
	p := &Poller{fetcher: f, stopChan: make(chan struct{})}
	p.Configure(sources, interval)
	return p
}

// Configure replaces the source list and interval. Changes apply from the
// next pass.
func (p *Poller) Configure(sources []Source, interval time.Duration) {
	if interval < MinInterval {
		interval = MinInterval
	}
	p.mu.Lock()
	p.sources = append([]Source(nil), sources...)
	p.interval = interval
	p.mu.Unlock()
}

// Sources returns the current source list.
func (p *Poller) Sources() []Source {
	srcs, _ := p.snapshot()
	return srcs
}

func (p *Poller) snapshot() ([]Source, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources, p.interval
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			sources, interval := p.snapshot()
			p.pass(sources)

			t := time.NewTimer(interval)
			select {
			case <-p.stopChan:
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}

func (p *Poller) pass(sources []Source) {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	results, err := p.fetcher.FetchAll(ctx, sources)
	if err != nil {
		slog.Warn("ingest: poll pass interrupted", "err", err)
	}
	saved, failed := 0, 0
	for _, r := range results {
		saved += r.Saved
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("ingest: poll pass finished", "sources", len(sources), "saved", saved, "failed", failed)
}

// Stop ends the polling loop and waits for an in-flight pass to wind down.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
