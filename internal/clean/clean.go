// Package clean normalizes scraped HTML before it is stored as a record's
// rich-text content.
package clean

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// strippedAttrs are presentation attributes copied from source pages that
// carry no meaning once the content is rendered elsewhere.
var strippedAttrs = []string{"style", "class", "id", "data-check-id"}

// HTML removes scripts, styles and presentation attributes from fragment and
// collapses whitespace. The result is the inner HTML of the body.
func HTML(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, a := range strippedAttrs {
			s.RemoveAttr(a)
		}
	})
	out, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return collapse(out), nil
}

// Text returns the visible text of fragment, whitespace collapsed and cut to
// at most limit runes. A limit <= 0 means no limit.
func Text(fragment string, limit int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	text := collapse(doc.Text())
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:limit])) + "…"
}

// ImageURL drops the query and fragment from a thumbnail URL. Sources append
// resize parameters that break when the image is served elsewhere.
func ImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
