// Package ingest pulls RSS and Atom feeds and hands their items to the
// index as records.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/newsdex/internal/clean"
	"github.com/bryan-buckman/newsdex/internal/model"
)

// Fan-out settings. Backends that serialize writes get one fetch at a time.
const (
	MaxConcurrencyHigh = 10
	MaxConcurrencyLow  = 1
)

// summaryRunes caps generated summaries.
const summaryRunes = 280

// Source is one feed to pull.
type Source struct {
	Name     string
	URL      string
	Category string
}

// Saver accepts records. *engine.Engine satisfies it.
type Saver interface {
	Save(ctx context.Context, rec model.Record) error
	SupportsHighConcurrency() bool
}

// RecordID derives a stable record id from an item's link or guid.
func RecordID(key string) model.ID {
	return model.ID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String())
}

// Fetcher fetches feeds and saves their items.
type Fetcher struct {
	saver       Saver
	parser      *gofeed.Parser
	concurrency int
	limiter     *domainLimiter
	now         func() time.Time
}

// NewFetcher creates a Fetcher whose fan-out follows the saver's backend.
// concurrency > 0 overrides it.
func NewFetcher(s Saver, concurrency int) *Fetcher {
	if concurrency <= 0 {
		concurrency = MaxConcurrencyLow
		if s.SupportsHighConcurrency() {
			concurrency = MaxConcurrencyHigh
		}
	}
	p := gofeed.NewParser()
	p.UserAgent = "newsdex/1.0"
	return &Fetcher{
		saver:       s,
		parser:      p,
		concurrency: concurrency,
		limiter:     newDomainLimiter(DelayBetweenDomainRequests),
		now:         time.Now,
	}
}

// FetchSource fetches one feed and saves every item in it. It returns how
// many items were saved.
func (f *Fetcher) FetchSource(ctx context.Context, src Source) (int, error) {
	domain := extractDomain(src.URL)
	if err := f.limiter.acquire(ctx, domain); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", src.URL, err)
	}
	defer f.limiter.release(domain)

	feed, err := f.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}

	saved := 0
	for _, item := range feed.Items {
		rec, ok := f.toRecord(src, feed, item)
		if !ok {
			continue
		}
		if err := f.saver.Save(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
			slog.Error("ingest: save failed", "source", src.Name, "id", rec.ID, "err", err)
			continue
		}
		saved++
	}
	return saved, nil
}

func (f *Fetcher) toRecord(src Source, feed *gofeed.Feed, item *gofeed.Item) (model.Record, bool) {
	key := item.Link
	if key == "" {
		key = item.GUID
	}
	if key == "" {
		return model.Record{}, false
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}
	content, err := clean.HTML(body)
	if err != nil {
		slog.Warn("ingest: keeping uncleaned content", "source", src.Name, "link", key, "err", err)
		content = body
	}
	summary := clean.Text(item.Description, summaryRunes)
	if summary == "" {
		summary = clean.Text(body, summaryRunes)
	}

	published := f.now()
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	meta := map[string]string{"source": src.Name}
	if item.GUID != "" {
		meta["guid"] = item.GUID
	}
	if feed.Title != "" {
		meta["feed"] = feed.Title
	}

	return model.Record{
		ID:          RecordID(key),
		Category:    src.Category,
		Title:       strings.TrimSpace(item.Title),
		Author:      author(item),
		Thumbnail:   clean.ImageURL(thumbnail(item)),
		URL:         item.Link,
		Summary:     summary,
		Content:     content,
		Meta:        meta,
		PublishTime: published.UnixMilli(),
	}, true
}

func author(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return ""
}

func thumbnail(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// Result is the outcome of fetching one source.
type Result struct {
	Source Source
	Saved  int
	Err    error
}

// FetchAll fetches every source, in parallel when the backend allows it.
// Failed sources are logged and reported in the results; FetchAll itself
// only fails when ctx is cancelled.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]Result, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	slog.Info("ingest: fetching sources", "count", len(sources), "concurrency", f.concurrency)
	if f.concurrency <= 1 {
		return f.fetchSequential(ctx, sources)
	}
	return f.fetchParallel(ctx, sources)
}

func (f *Fetcher) fetchSequential(ctx context.Context, sources []Source) ([]Result, error) {
	results := make([]Result, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			slog.Warn("ingest: cancelled", "done", i, "total", len(sources))
			return results, err
		}
		n, err := f.FetchSource(ctx, src)
		if err != nil {
			slog.Error("ingest: fetch failed", "source", src.Name, "url", src.URL, "err", err)
		}
		results = append(results, Result{Source: src, Saved: n, Err: err})
	}
	return results, nil
}

func (f *Fetcher) fetchParallel(ctx context.Context, sources []Source) ([]Result, error) {
	jobs := make(chan int)
	results := make([]Result, len(sources))
	var wg sync.WaitGroup

	for w := 0; w < f.concurrency && w < len(sources); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				src := sources[i]
				n, err := f.FetchSource(ctx, src)
				if err != nil {
					slog.Error("ingest: fetch failed", "source", src.Name, "url", src.URL, "err", err)
				}
				results[i] = Result{Source: src, Saved: n, Err: err}
			}
		}()
	}

feed:
	for i := range sources {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return results, ctx.Err()
}
