package retention

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// MinInterval is the shortest allowed time between scheduled sweeps.
const MinInterval = time.Minute

// Scheduler runs a Sweeper periodically.
type Scheduler struct {
	sweeper  *Sweeper
	maxAge   atomic.Int64
	interval atomic.Int64
	wake     chan struct{}
}

// NewScheduler creates a Scheduler sweeping records older than maxAge every
// interval.
func NewScheduler(s *Sweeper, maxAge, interval time.Duration) *Scheduler {
	sc := &Scheduler{sweeper: s, wake: make(chan struct{}, 1)}
	sc.Configure(maxAge, interval)
	return sc
}

// Configure changes the horizon and interval of a running Scheduler. The new
// interval takes effect after the next sweep.
func (sc *Scheduler) Configure(maxAge, interval time.Duration) {
	if interval < MinInterval {
		interval = MinInterval
	}
	sc.maxAge.Store(int64(maxAge))
	sc.interval.Store(int64(interval))
}

// MaxAge returns the current retention horizon.
func (sc *Scheduler) MaxAge() time.Duration { return time.Duration(sc.maxAge.Load()) }

// Trigger asks a running Scheduler to sweep now.
func (sc *Scheduler) Trigger() {
	select {
	case sc.wake <- struct{}{}:
	default:
	}
}

// Run sweeps once at start and then every interval. Run blocks until ctx is
// cancelled.
func (sc *Scheduler) Run(ctx context.Context) {
	for {
		maxAge := sc.MaxAge()
		if _, err := sc.sweeper.Run(ctx, maxAge); err != nil && ctx.Err() == nil {
			slog.Error("retention: scheduled sweep failed", "max_age", maxAge, "err", err)
		}

		t := time.NewTimer(time.Duration(sc.interval.Load()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-sc.wake:
			t.Stop()
		case <-t.C:
		}
	}
}
