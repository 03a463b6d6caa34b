package feedxml

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/newsdex/internal/model"
)

func TestRender(t *testing.T) {
	p := model.Projection{
		ID:          "a1",
		Title:       "Rates & bonds",
		Category:    "money",
		PublishTime: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC).UnixMilli(),
		Author:      "Alice",
		Thumbnail:   "https://img.example.com/1.jpg",
		URL:         "https://news.example.com/1",
	}
	d := model.Detail{Projection: p, Summary: "short", Content: "<p>body</p>"}
	bare := model.Projection{ID: "a2", Title: "No detail", Category: "money"}

	out, err := Render(Meta{Title: "money", Link: "http://localhost/"}, []Entry{
		{Projection: p, Detail: &d},
		{Projection: bare},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<rss version="2.0">`,
		`<title><![CDATA[Rates & bonds]]></title>`,
		`<guid isPermaLink="false">a1</guid>`,
		`<pubDate>Mon, 06 May 2024 10:00:00 +0000</pubDate>`,
		`<![CDATA[<p><img src="https://img.example.com/1.jpg" alt=""/></p><p>Alice</p><p>short</p><hr/><p>body</p>]]>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}

	var doc RSS
	if err := xml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if len(doc.Channel.Items) != 2 || doc.Channel.Items[1].Author != nil {
		t.Errorf("items: %+v", doc.Channel.Items)
	}
}
