// Package feedxml renders timeline pages as RSS 2.0 documents.
package feedxml

import (
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/bryan-buckman/newsdex/internal/model"
)

// RSS is the root of an RSS 2.0 document.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel holds feed metadata and items.
type Channel struct {
	Title         string `xml:"title"`
	Link          string `xml:"link"`
	Description   string `xml:"description"`
	LastBuildDate string `xml:"lastBuildDate,omitempty"`
	Items         []Item `xml:"item"`
}

// Item is one record.
type Item struct {
	Title       CDATA  `xml:"title"`
	Link        string `xml:"link,omitempty"`
	GUID        GUID   `xml:"guid"`
	Author      *CDATA `xml:"author,omitempty"`
	Category    string `xml:"category,omitempty"`
	PubDate     string `xml:"pubDate"`
	Description CDATA  `xml:"description"`
}

// GUID identifies an item. Record ids are not permalinks.
type GUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// CDATA is text emitted inside a CDATA section.
type CDATA struct {
	Text string `xml:",cdata"`
}

// Entry is a record prepared for rendering. Detail may be absent, in which
// case only the projection is rendered.
type Entry struct {
	Projection model.Projection
	Detail     *model.Detail
}

// Meta describes the channel.
type Meta struct {
	Title       string
	Link        string
	Description string
	BuiltAt     time.Time
}

// Render builds the RSS document for entries, in the order given.
func Render(meta Meta, entries []Entry) ([]byte, error) {
	doc := RSS{
		Version: "2.0",
		Channel: Channel{
			Title:       meta.Title,
			Link:        meta.Link,
			Description: meta.Description,
		},
	}
	if !meta.BuiltAt.IsZero() {
		doc.Channel.LastBuildDate = meta.BuiltAt.UTC().Format(time.RFC1123Z)
	}
	for _, e := range entries {
		p := e.Projection
		item := Item{
			Title:       CDATA{p.Title},
			Link:        p.URL,
			GUID:        GUID{Value: string(p.ID)},
			Category:    p.Category,
			PubDate:     p.Published().UTC().Format(time.RFC1123Z),
			Description: CDATA{description(p, e.Detail)},
		}
		if p.Author != "" {
			item.Author = &CDATA{p.Author}
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}

// description lays out thumbnail, author, summary, a rule, then the content.
func description(p model.Projection, d *model.Detail) string {
	var b strings.Builder
	if p.Thumbnail != "" {
		fmt.Fprintf(&b, `<p><img src="%s" alt=""/></p>`, html.EscapeString(p.Thumbnail))
	}
	if p.Author != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p.Author))
	}
	if d == nil {
		return b.String()
	}
	if d.Summary != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(d.Summary))
	}
	b.WriteString("<hr/>")
	b.WriteString(d.Content)
	return b.String()
}
