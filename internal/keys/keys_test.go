package keys

import "testing"

func TestSchemaKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"timeline", New("").Timeline(), "news:timeline"},
		{"category", New("").Category("tech"), "news:category:tech"},
		{"registry", New("").Categories(), "news:categories"},
		{"projection", New("").Projection("a1"), "news:list:a1"},
		{"detail", New("").Detail("a1"), "news:detail:a1"},
		{"custom prefix", New("test").Timeline(), "test:timeline"},
		{"zero value", Schema{}.Detail("x"), "news:detail:x"},
		{"timeline for empty", New("").TimelineFor(""), "news:timeline"},
		{"timeline for category", New("").TimelineFor("money"), "news:category:money"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecordKeys(t *testing.T) {
	got := New("n").RecordKeys("id1")
	if len(got) != 2 || got[0] != "n:list:id1" || got[1] != "n:detail:id1" {
		t.Errorf("RecordKeys: got %v", got)
	}
}
