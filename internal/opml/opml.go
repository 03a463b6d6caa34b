// Package opml converts between OPML subscription lists and feed sources.
// The top-level folder of each feed becomes its category.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder or a feed.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Feed is one subscription.
type Feed struct {
	Name     string
	URL      string
	Category string
}

// Parse reads an OPML document. Feeds outside any folder get fallback as
// their category.
func Parse(r io.Reader, fallback string) ([]Feed, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var feeds []Feed
	var walk func(outlines []Outline, category string, top bool)
	walk = func(outlines []Outline, category string, top bool) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				name := o.Title
				if name == "" {
					name = o.Text
				}
				feeds = append(feeds, Feed{Name: name, URL: o.XMLURL, Category: category})
				continue
			}
			if len(o.Outlines) == 0 {
				continue
			}
			// Nested folders stay in their top-level folder's category.
			sub := category
			if top {
				sub = o.Text
				if sub == "" {
					sub = o.Title
				}
			}
			walk(o.Outlines, sub, false)
		}
	}
	walk(doc.Body.Outlines, fallback, true)
	return feeds, nil
}

// Export renders feeds as OPML with one folder per category, sorted.
func Export(title string, feeds []Feed, now time.Time) ([]byte, error) {
	byCategory := make(map[string][]Outline)
	for _, f := range feeds {
		byCategory[f.Category] = append(byCategory[f.Category], Outline{
			Text:   f.Name,
			Title:  f.Name,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}
	cats := make([]string, 0, len(byCategory))
	for c := range byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	doc := OPML{
		Version: "2.0",
		Head:    Head{Title: title, DateCreated: now.Format(time.RFC1123Z)},
	}
	for _, c := range cats {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{Text: c, Title: c, Outlines: byCategory[c]})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
