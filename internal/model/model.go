// Package model defines shared data structures.
package model

import (
	"strings"
	"time"
)

// ID identifies one content record. It is supplied by the ingestion side,
// usually derived from the source and a natural key, and never changes.
type ID string

// Projection holds the fields needed to render a list entry.
type Projection struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	PublishTime int64  `json:"publish_time"` // milliseconds since epoch
	Author      string `json:"author,omitempty"`
	Thumbnail   string `json:"pic_path,omitempty"`
	URL         string `json:"url"`
}

// Published returns the publish time as a time.Time.
func (p Projection) Published() time.Time {
	return time.UnixMilli(p.PublishTime)
}

// Detail is the full payload of a record, fetched only on detail views.
type Detail struct {
	Projection
	Summary string            `json:"summary,omitempty"`
	Content string            `json:"content"` // rich text (cleaned HTML)
	Meta    map[string]string `json:"meta,omitempty"`
}

// Record is what the ingestion side hands over to be indexed.
type Record struct {
	ID          ID
	Category    string
	Title       string
	Author      string
	Thumbnail   string
	URL         string
	Summary     string
	Content     string
	Meta        map[string]string
	PublishTime int64 // milliseconds since epoch; zero means "now"
}

// Projection returns the list-rendering subset of the record.
func (r Record) Projection() Projection {
	return Projection{
		ID:          r.ID,
		Title:       r.Title,
		Category:    r.Category,
		PublishTime: r.PublishTime,
		Author:      r.Author,
		Thumbnail:   r.Thumbnail,
		URL:         r.URL,
	}
}

// Detail returns the full payload of the record.
func (r Record) Detail() Detail {
	return Detail{
		Projection: r.Projection(),
		Summary:    r.Summary,
		Content:    r.Content,
		Meta:       r.Meta,
	}
}

// Page is one window of a timeline, most recent first.
type Page struct {
	Items    []Projection `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	HasNext  bool         `json:"has_next"`
}

// SweepResult reports what a retention pass removed.
type SweepResult struct {
	Deleted           int   `json:"deleted"`
	CategoriesVisited int   `json:"categories_visited"`
	CategoriesPruned  int   `json:"categories_pruned"`
	Cutoff            int64 `json:"cutoff"`
}

// PublishTimeLayout is the wall-clock format scraped sources report.
const PublishTimeLayout = "2006-01-02 15:04:05"

// ParsePublishTime converts a "2006-01-02 15:04:05" timestamp in loc to
// milliseconds since epoch. Empty or malformed input yields now.
func ParsePublishTime(s string, loc *time.Location, now time.Time) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UnixMilli()
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(PublishTimeLayout, s, loc)
	if err != nil {
		return now.UnixMilli()
	}
	return t.UnixMilli()
}
