package model

import (
	"testing"
	"time"
)

func TestParsePublishTime(t *testing.T) {
	now := time.Date(2026, 2, 22, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		input string
		want  int64
	}{
		{"2026-02-21 16:40:10", time.Date(2026, 2, 21, 16, 40, 10, 0, time.UTC).UnixMilli()},
		{"  2026-02-21 16:40:10 ", time.Date(2026, 2, 21, 16, 40, 10, 0, time.UTC).UnixMilli()},
		{"", now.UnixMilli()},
		{"yesterday", now.UnixMilli()},
		{"2026-02-21", now.UnixMilli()},
	}
	for _, tt := range tests {
		got := ParsePublishTime(tt.input, time.UTC, now)
		if got != tt.want {
			t.Errorf("ParsePublishTime(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestRecordSplitsProjectionAndDetail(t *testing.T) {
	r := Record{
		ID: "a1", Category: "tech", Title: "T1", Author: "amy",
		URL: "https://example.com/a1", Summary: "s", Content: "<p>body</p>",
		Meta: map[string]string{"source": "huxiu"}, PublishTime: 1000,
	}
	p := r.Projection()
	if p.ID != "a1" || p.Category != "tech" || p.PublishTime != 1000 || p.Title != "T1" {
		t.Errorf("unexpected projection: %+v", p)
	}
	d := r.Detail()
	if d.Content != "<p>body</p>" || d.Summary != "s" || d.Meta["source"] != "huxiu" {
		t.Errorf("unexpected detail: %+v", d)
	}
	if d.Projection != p {
		t.Errorf("detail projection %+v differs from %+v", d.Projection, p)
	}
	if !p.Published().Equal(time.UnixMilli(1000)) {
		t.Errorf("Published: got %v", p.Published())
	}
}
