package opml

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sample = `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>subs</title></head>
  <body>
    <outline text="tech">
      <outline text="Example" xmlUrl="https://example.com/rss"/>
      <outline text="vendors">
        <outline text="Vendor" title="Vendor Blog" xmlUrl="https://vendor.example.com/feed"/>
      </outline>
    </outline>
    <outline text="Loose" xmlUrl="https://loose.example.com/atom"/>
    <outline text="empty folder"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	feeds, err := Parse(strings.NewReader(sample), "general")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Feed{
		{Name: "Example", URL: "https://example.com/rss", Category: "tech"},
		{Name: "Vendor Blog", URL: "https://vendor.example.com/feed", Category: "tech"},
		{Name: "Loose", URL: "https://loose.example.com/atom", Category: "general"},
	}
	if !reflect.DeepEqual(feeds, want) {
		t.Errorf("got %+v\nwant %+v", feeds, want)
	}
}

func TestExportRoundTrip(t *testing.T) {
	in := []Feed{
		{Name: "B", URL: "https://b.example.com/rss", Category: "tech"},
		{Name: "A", URL: "https://a.example.com/rss", Category: "money"},
	}
	out, err := Export("newsdex", in, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("<?xml")) {
		t.Errorf("missing xml header")
	}
	back, err := Parse(bytes.NewReader(out), "general")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// Categories come back sorted.
	want := []Feed{in[1], in[0]}
	if !reflect.DeepEqual(back, want) {
		t.Errorf("round trip: got %+v, want %+v", back, want)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("<opml"), "general"); err == nil {
		t.Error("expected error for truncated document")
	}
}
