// Package retention removes records whose publish time has fallen behind the
// retention horizon, from the record store and every timeline at once.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryan-buckman/newsdex/internal/index"
	"github.com/bryan-buckman/newsdex/internal/keys"
	"github.com/bryan-buckman/newsdex/internal/kv"
	"github.com/bryan-buckman/newsdex/internal/model"
	"github.com/bryan-buckman/newsdex/internal/record"
)

// DefaultAttempts is how often a sweep is retried after losing a race with a
// concurrent save or delete.
const DefaultAttempts = 3

// ErrInvalidMaxAge is returned for a non-positive retention horizon.
var ErrInvalidMaxAge = errors.New("retention: max age must be positive")

// Sweeper runs retention passes.
type Sweeper struct {
	store    kv.Store
	keys     keys.Schema
	index    *index.Manager
	records  *record.Store
	now      func() time.Time // injectable for deterministic tests
	attempts int
}

// New creates a Sweeper.
func New(st kv.Store, schema keys.Schema, idx *index.Manager, records *record.Store) *Sweeper {
	return &Sweeper{
		store:    st,
		keys:     schema,
		index:    idx,
		records:  records,
		now:      time.Now,
		attempts: DefaultAttempts,
	}
}

// WithClock replaces the time source used to compute the cutoff.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run removes every record published strictly before now-maxAge. Storage
// keys, global timeline entries and category timeline entries go in one
// transaction watching the global timeline and the registry, so a record
// re-saved with a newer publish time during the sweep is never removed.
// Categories whose timeline the sweep empties leave the registry.
func (s *Sweeper) Run(ctx context.Context, maxAge time.Duration) (model.SweepResult, error) {
	if maxAge <= 0 {
		return model.SweepResult{}, ErrInvalidMaxAge
	}
	cutoff := s.now().Add(-maxAge).UnixMilli()
	rng := kv.Below(float64(cutoff))

	var res model.SweepResult
	err := kv.UpdateRetry(ctx, s.store, s.attempts, func(ctx context.Context, tx kv.Tx) error {
		res = model.SweepResult{Cutoff: cutoff}

		ids, err := s.index.Expired(ctx, tx, rng)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		cats, err := s.index.RegisteredIn(ctx, tx)
		if err != nil {
			return err
		}
		catKeys := make([]string, len(cats))
		for i, c := range cats {
			catKeys[i] = s.keys.Category(c)
		}
		if err := tx.Watch(ctx, catKeys...); err != nil {
			return err
		}

		var emptied []string
		for _, c := range cats {
			empty, err := s.index.EmptiedBy(ctx, tx, c, rng)
			if err != nil {
				return err
			}
			if empty {
				emptied = append(emptied, c)
			}
		}

		err = tx.Pipelined(ctx, func(p kv.Pipeline) {
			s.records.DeleteKeys(p, ids)
			s.index.RemoveRange(p, cats, rng)
			s.index.Unregister(p, emptied...)
		})
		if err != nil {
			return err
		}
		res.Deleted = len(ids)
		res.CategoriesVisited = len(cats)
		res.CategoriesPruned = len(emptied)
		return nil
	}, s.keys.Timeline(), s.keys.Categories())
	if err != nil {
		return model.SweepResult{}, fmt.Errorf("sweep: %w", err)
	}

	if p, ok := s.store.(kv.Purger); ok {
		if n, err := p.Purge(ctx); err != nil {
			slog.Warn("retention: purge of expired keys failed", "err", err)
		} else if n > 0 {
			slog.Debug("retention: purged expired keys", "count", n)
		}
	}

	if res.Deleted > 0 {
		slog.Info("retention: sweep finished",
			"deleted", res.Deleted,
			"categories", res.CategoriesVisited,
			"pruned", res.CategoriesPruned,
			"cutoff", time.UnixMilli(cutoff).UTC().Format(time.RFC3339))
	}
	return res, nil
}
