package record

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/bryan-buckman/newsdex/internal/index"
	"github.com/bryan-buckman/newsdex/internal/keys"
	"github.com/bryan-buckman/newsdex/internal/kv"
	"github.com/bryan-buckman/newsdex/internal/kv/kvtest"
	"github.com/bryan-buckman/newsdex/internal/model"
)

func newStore(st kv.Store) (*Store, *index.Manager) {
	schema := keys.New("")
	idx := index.New(st, schema)
	return New(st, schema, idx), idx
}

func sampleRecord(id model.ID, category string, ts int64) model.Record {
	return model.Record{
		ID:          id,
		Category:    category,
		Title:       "Title " + string(id),
		Author:      "amy",
		Thumbnail:   "https://img.example.com/" + string(id) + ".png",
		URL:         "https://example.com/" + string(id),
		Summary:     "summary",
		Content:     "<p>body of " + string(id) + "</p>",
		Meta:        map[string]string{"source": "huxiu"},
		PublishTime: ts,
	}
}

func TestSaveAndFetch(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			rs, idx := newStore(b.Store)
			rec := sampleRecord("a1", "tech", 1000)
			if err := rs.Save(ctx, rec, time.Hour); err != nil {
				t.Fatalf("Save: %v", err)
			}

			projs, err := rs.FetchProjections(ctx, []model.ID{"a1", "missing"})
			if err != nil {
				t.Fatalf("FetchProjections: %v", err)
			}
			if len(projs) != 2 {
				t.Fatalf("FetchProjections: got %d slots, want 2", len(projs))
			}
			if projs[0] == nil || *projs[0] != rec.Projection() {
				t.Errorf("projection: got %+v, want %+v", projs[0], rec.Projection())
			}
			if projs[1] != nil {
				t.Errorf("missing id: got %+v, want nil", projs[1])
			}

			d, ok, err := rs.FetchDetail(ctx, "a1")
			if err != nil || !ok {
				t.Fatalf("FetchDetail: got (%v, %v)", ok, err)
			}
			if !reflect.DeepEqual(d, rec.Detail()) {
				t.Errorf("detail: got %+v, want %+v", d, rec.Detail())
			}

			if _, ok, err := rs.FetchDetail(ctx, "never"); ok || err != nil {
				t.Errorf("FetchDetail never-saved: got (%v, %v), want (false, nil)", ok, err)
			}

			ids, total, _ := idx.ListIDs(ctx, "tech", 1, 10)
			if total != 1 || !reflect.DeepEqual(ids, []model.ID{"a1"}) {
				t.Errorf("timeline: got %v of %d", ids, total)
			}
		})
	}
}

func TestSaveExpires(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			rs, _ := newStore(b.Store)
			if err := rs.Save(ctx, sampleRecord("a1", "tech", 1000), time.Hour); err != nil {
				t.Fatalf("Save: %v", err)
			}
			b.Advance(2 * time.Hour)

			projs, err := rs.FetchProjections(ctx, []model.ID{"a1"})
			if err != nil {
				t.Fatalf("FetchProjections: %v", err)
			}
			if projs[0] != nil {
				t.Errorf("expired projection still visible: %+v", projs[0])
			}
			if _, ok, err := rs.FetchDetail(ctx, "a1"); ok || err != nil {
				t.Errorf("expired detail: got (%v, %v), want (false, nil)", ok, err)
			}
		})
	}
}

func TestResaveMovesCategory(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			rs, idx := newStore(b.Store)
			if err := rs.Save(ctx, sampleRecord("a1", "tech", 1000), time.Hour); err != nil {
				t.Fatalf("first Save: %v", err)
			}
			if err := rs.Save(ctx, sampleRecord("a1", "money", 3000), time.Hour); err != nil {
				t.Fatalf("second Save: %v", err)
			}

			if _, total, _ := idx.ListIDs(ctx, "tech", 1, 10); total != 0 {
				t.Errorf("old category still lists the record (total %d)", total)
			}
			ids, total, _ := idx.ListIDs(ctx, "money", 1, 10)
			if total != 1 || !reflect.DeepEqual(ids, []model.ID{"a1"}) {
				t.Errorf("new category: got %v of %d", ids, total)
			}
			if _, total, _ := idx.ListIDs(ctx, "", 1, 10); total != 1 {
				t.Errorf("global timeline: got total %d, want 1", total)
			}
			if s, _, _ := idx.Score(ctx, "a1"); s != 3000 {
				t.Errorf("score: got %d, want 3000", s)
			}
		})
	}
}

func TestResaveAfterProjectionExpired(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			rs, idx := newStore(b.Store)
			if err := rs.Save(ctx, sampleRecord("a1", "tech", 1000), time.Minute); err != nil {
				t.Fatalf("first Save: %v", err)
			}
			b.Advance(2 * time.Minute)
			if err := rs.Save(ctx, sampleRecord("a1", "money", 3000), time.Hour); err != nil {
				t.Fatalf("second Save: %v", err)
			}

			if ids, total, _ := idx.ListIDs(ctx, "tech", 1, 10); total != 0 {
				t.Errorf("old category still lists %v", ids)
			}
			if _, total, _ := idx.ListIDs(ctx, "money", 1, 10); total != 1 {
				t.Errorf("new category: got total %d, want 1", total)
			}
		})
	}
}

func TestDeleteFollowsStoredCategory(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			rs, idx := newStore(b.Store)
			for i, id := range []model.ID{"a1", "a2"} {
				if err := rs.Save(ctx, sampleRecord(id, "tech", int64(1000*(i+1))), time.Hour); err != nil {
					t.Fatalf("Save %s: %v", id, err)
				}
			}

			if err := rs.Delete(ctx, "a1", "money"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			ids, _, _ := idx.ListIDs(ctx, "tech", 1, 10)
			if !reflect.DeepEqual(ids, []model.ID{"a2"}) {
				t.Errorf("tech after delete: got %v, want [a2]", ids)
			}
			if _, total, _ := idx.ListIDs(ctx, "", 1, 10); total != 1 {
				t.Errorf("global timeline: got total %d, want 1", total)
			}
			cats, _ := idx.Categories(ctx)
			if !reflect.DeepEqual(cats, []string{"tech"}) {
				t.Errorf("registry: got %v, want [tech]", cats)
			}
		})
	}
}

func TestDeleteKeepsRegistryWhileCategoryHasRecords(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			rs, idx := newStore(b.Store)
			for i, id := range []model.ID{"a1", "a2"} {
				if err := rs.Save(ctx, sampleRecord(id, "tech", int64(1000*(i+1))), time.Hour); err != nil {
					t.Fatalf("Save %s: %v", id, err)
				}
			}

			if err := rs.Delete(ctx, "a1", "tech"); err != nil {
				t.Fatalf("Delete a1: %v", err)
			}
			if _, ok, _ := rs.FetchDetail(ctx, "a1"); ok {
				t.Error("a1 detail survived Delete")
			}
			cats, _ := idx.Categories(ctx)
			if !reflect.DeepEqual(cats, []string{"tech"}) {
				t.Errorf("registry after deleting one of two: got %v, want [tech]", cats)
			}

			if err := rs.Delete(ctx, "a2", "tech"); err != nil {
				t.Fatalf("Delete a2: %v", err)
			}
			cats, _ = idx.Categories(ctx)
			if len(cats) != 0 {
				t.Errorf("registry after emptying tech: got %v, want empty", cats)
			}
			if _, total, _ := idx.ListIDs(ctx, "", 1, 10); total != 0 {
				t.Errorf("global timeline: got total %d, want 0", total)
			}
		})
	}
}

func TestProjectionCodec(t *testing.T) {
	p := model.Projection{ID: "x", Title: "T", Category: "c", PublishTime: 42, URL: "u"}
	got := decodeProjection("x", encodeProjection(p))
	if got == nil || *got != p {
		t.Errorf("round trip: got %+v, want %+v", got, p)
	}
	if decodeProjection("x", map[string]string{}) != nil {
		t.Error("empty field map should decode to nil")
	}
}
