// Package index maintains the timelines: the global ordered set of record ids
// scored by publish time, one ordered set per category, and the category
// registry. It is the only source of truth for what exists and in what order.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/bryan-buckman/newsdex/internal/keys"
	"github.com/bryan-buckman/newsdex/internal/kv"
	"github.com/bryan-buckman/newsdex/internal/model"
)

// Manager reads timelines directly and queues timeline writes on a caller's
// pipeline so they commit together with the record's storage keys.
type Manager struct {
	store kv.Reader
	keys  keys.Schema
}

// New creates a Manager over store.
func New(store kv.Reader, schema keys.Schema) *Manager {
	return &Manager{store: store, keys: schema}
}

// AddToTimeline upserts id into the global and category timelines at score
// and registers the category. Re-adding an id moves it to the new score.
func (m *Manager) AddToTimeline(p kv.Pipeline, id model.ID, category string, score int64) {
	z := kv.Z{Member: string(id), Score: float64(score)}
	p.ZAdd(m.keys.Timeline(), z)
	p.ZAdd(m.keys.Category(category), z)
	p.SAdd(m.keys.Categories(), category)
}

// RemoveFromTimeline drops id from the global and category timelines. The
// category registry is left alone.
func (m *Manager) RemoveFromTimeline(p kv.Pipeline, id model.ID, category string) {
	p.ZRem(m.keys.Timeline(), string(id))
	p.ZRem(m.keys.Category(category), string(id))
}

// Window is the zero-based rank range [Start, Stop] for a page.
type Window struct {
	Start, Stop int64
}

// PageWindow returns the rank window of page (1-based) at size entries per page.
// Windows that would overflow int64 saturate, so they lie past any timeline.
func PageWindow(page, size int) Window {
	n := int64(size)
	start := math.MaxInt64 - n
	if int64(page-1) <= start/n {
		start = int64(page-1) * n
	}
	return Window{Start: start, Stop: start + n - 1}
}

// ListIDs returns one page of ids, most recent first, from the global timeline
// (category == "") or the named category, plus the timeline's cardinality.
// Pages past the end yield no ids and the true total.
func (m *Manager) ListIDs(ctx context.Context, category string, page, size int) ([]model.ID, int64, error) {
	key := m.keys.TimelineFor(category)
	total, err := m.store.ZCard(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("count timeline: %w", err)
	}
	w := PageWindow(page, size)
	if total == 0 || w.Start >= total {
		return []model.ID{}, total, nil
	}
	members, err := m.store.ZRevRange(ctx, key, w.Start, w.Stop)
	if err != nil {
		return nil, 0, fmt.Errorf("read timeline window: %w", err)
	}
	ids := make([]model.ID, len(members))
	for i, mem := range members {
		ids[i] = model.ID(mem)
	}
	return ids, total, nil
}

// Categories returns a snapshot of the category registry, sorted.
func (m *Manager) Categories(ctx context.Context) ([]string, error) {
	return m.RegisteredIn(ctx, m.store)
}

// RegisteredIn reads the category registry through r, typically a transaction.
func (m *Manager) RegisteredIn(ctx context.Context, r kv.Reader) ([]string, error) {
	cats, err := r.SMembers(ctx, m.keys.Categories())
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	sort.Strings(cats)
	return cats, nil
}

// Score returns id's score in the global timeline, if present.
func (m *Manager) Score(ctx context.Context, id model.ID) (int64, bool, error) {
	s, ok, err := m.store.ZScore(ctx, m.keys.Timeline(), string(id))
	if err != nil || !ok {
		return 0, ok, err
	}
	return int64(s), true, nil
}

// Expired returns the ids in the global timeline inside r, oldest first.
func (m *Manager) Expired(ctx context.Context, r kv.Reader, rng kv.ScoreRange) ([]model.ID, error) {
	members, err := r.ZRangeByScore(ctx, m.keys.Timeline(), rng)
	if err != nil {
		return nil, fmt.Errorf("scan expired ids: %w", err)
	}
	ids := make([]model.ID, len(members))
	for i, mem := range members {
		ids[i] = model.ID(mem)
	}
	return ids, nil
}

// RemoveRange drops every entry inside rng from the global timeline and from
// each listed category timeline.
func (m *Manager) RemoveRange(p kv.Pipeline, categories []string, rng kv.ScoreRange) {
	p.ZRemRangeByScore(m.keys.Timeline(), rng)
	for _, c := range categories {
		p.ZRemRangeByScore(m.keys.Category(c), rng)
	}
}

// Unregister removes categories from the registry.
func (m *Manager) Unregister(p kv.Pipeline, categories ...string) {
	if len(categories) > 0 {
		p.SRem(m.keys.Categories(), categories...)
	}
}

// EmptiedBy reports whether removing the entries in rng leaves the category
// timeline empty. r must be the reader of the transaction doing the removal.
func (m *Manager) EmptiedBy(ctx context.Context, r kv.Reader, category string, rng kv.ScoreRange) (bool, error) {
	key := m.keys.Category(category)
	total, err := r.ZCard(ctx, key)
	if err != nil {
		return false, fmt.Errorf("count category %q: %w", category, err)
	}
	inRange, err := r.ZCount(ctx, key, rng)
	if err != nil {
		return false, fmt.Errorf("count expiring in %q: %w", category, err)
	}
	return total == inRange, nil
}

// EmptiedByRemoval reports whether removing id leaves the category timeline
// empty. r must be the reader of the transaction doing the removal.
func (m *Manager) EmptiedByRemoval(ctx context.Context, r kv.Reader, category string, id model.ID) (bool, error) {
	key := m.keys.Category(category)
	total, err := r.ZCard(ctx, key)
	if err != nil {
		return false, fmt.Errorf("count category %q: %w", category, err)
	}
	if total > 1 {
		return false, nil
	}
	if total == 0 {
		return true, nil
	}
	_, present, err := r.ZScore(ctx, key, string(id))
	if err != nil {
		return false, fmt.Errorf("score in %q: %w", category, err)
	}
	return present, nil
}
