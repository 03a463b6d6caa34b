// Package engine is the library boundary of the content index. It validates
// arguments, fills defaults and composes the record store, index manager and
// retention sweeper into the operations the presentation and ingestion
// layers call.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bryan-buckman/newsdex/internal/index"
	"github.com/bryan-buckman/newsdex/internal/keys"
	"github.com/bryan-buckman/newsdex/internal/kv"
	"github.com/bryan-buckman/newsdex/internal/model"
	"github.com/bryan-buckman/newsdex/internal/record"
	"github.com/bryan-buckman/newsdex/internal/retention"
)

// Defaults.
const (
	DefaultTTL      = 7 * 24 * time.Hour
	DefaultMaxAge   = 7 * 24 * time.Hour
	DefaultPageSize = 30
)

// Engine is safe for concurrent use. It holds no state besides the store handle.
type Engine struct {
	store   kv.Store
	index   *index.Manager
	records *record.Store
	sweeper *retention.Sweeper
	ttl     time.Duration
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// WithKeyPrefix namespaces every key. The default prefix is "news".
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithTTL sets how long saved records live in the store on their own.
// Zero or negative disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock replaces time.Now for default publish times and sweep cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an Engine over st.
func New(st kv.Store, opts ...Option) *Engine {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	schema := keys.New(o.prefix)
	idx := index.New(st, schema)
	rs := record.New(st, schema, idx)
	return &Engine{
		store:   st,
		index:   idx,
		records: rs,
		sweeper: retention.New(st, schema, idx, rs).WithClock(o.now),
		ttl:     o.ttl,
		now:     o.now,
	}
}

// Sweeper returns the engine's retention sweeper, for scheduling.
func (e *Engine) Sweeper() *retention.Sweeper { return e.sweeper }

// Backend names the store backend.
func (e *Engine) Backend() string { return e.store.Backend() }

// SupportsHighConcurrency reports whether callers may fan out writes.
func (e *Engine) SupportsHighConcurrency() bool { return e.store.SupportsHighConcurrency() }

// Save indexes rec. A zero PublishTime means now. Re-saving an id replaces
// its projection and detail and moves its timeline entries to the new score.
func (e *Engine) Save(ctx context.Context, rec model.Record) error {
	if rec.ID == "" {
		return invalid("empty record id")
	}
	if rec.Category == "" {
		return invalid("empty category")
	}
	if rec.PublishTime == 0 {
		rec.PublishTime = e.now().UnixMilli()
	}
	return e.records.Save(ctx, rec, e.ttl)
}

// List returns one page of projections, most recent first, from the named
// category or from every category when category is empty. Entries whose
// storage expired since they were indexed are skipped.
func (e *Engine) List(ctx context.Context, category string, page, size int) (model.Page, error) {
	if page < 1 {
		return model.Page{}, invalid(fmt.Sprintf("page %d < 1", page))
	}
	if size < 1 {
		return model.Page{}, invalid(fmt.Sprintf("page size %d < 1", size))
	}
	ids, total, err := e.index.ListIDs(ctx, category, page, size)
	if err != nil {
		return model.Page{}, err
	}
	out := model.Page{
		Items:    make([]model.Projection, 0, len(ids)),
		Total:    total,
		Page:     page,
		PageSize: size,
	}
	out.HasNext = index.PageWindow(page, size).Start+int64(len(ids)) < total
	if len(ids) == 0 {
		return out, nil
	}
	projs, err := e.records.FetchProjections(ctx, ids)
	if err != nil {
		return model.Page{}, err
	}
	for _, p := range projs {
		if p != nil {
			out.Items = append(out.Items, *p)
		}
	}
	return out, nil
}

// Detail returns the full payload of id, or ok == false when it does not
// exist or has expired.
func (e *Engine) Detail(ctx context.Context, id model.ID) (model.Detail, bool, error) {
	if id == "" {
		return model.Detail{}, false, invalid("empty record id")
	}
	return e.records.FetchDetail(ctx, id)
}

// Categories returns the known category names, sorted.
func (e *Engine) Categories(ctx context.Context) ([]string, error) {
	return e.index.Categories(ctx)
}

// Delete removes id from storage and from the global and category timelines.
// Deleting an id that does not exist is not an error.
func (e *Engine) Delete(ctx context.Context, id model.ID, category string) error {
	if id == "" {
		return invalid("empty record id")
	}
	if category == "" {
		return invalid("empty category")
	}
	return e.records.Delete(ctx, id, category)
}

// Sweep removes every record published more than maxAge ago.
func (e *Engine) Sweep(ctx context.Context, maxAge time.Duration) (model.SweepResult, error) {
	if maxAge <= 0 {
		return model.SweepResult{}, invalid(fmt.Sprintf("max age %v <= 0", maxAge))
	}
	return e.sweeper.Run(ctx, maxAge)
}
