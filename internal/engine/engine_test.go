package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/bryan-buckman/newsdex/internal/kv/kvtest"
	"github.com/bryan-buckman/newsdex/internal/model"
)

func ids(items []model.Projection) []model.ID {
	out := make([]model.ID, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}

func TestListScenario(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store)
			must(t, e.Save(ctx, model.Record{ID: "a1", Category: "tech", Title: "T1", PublishTime: 1000}))
			must(t, e.Save(ctx, model.Record{ID: "a2", Category: "tech", Title: "T2", PublishTime: 2000}))

			p1, err := e.List(ctx, "tech", 1, 1)
			must(t, err)
			if len(p1.Items) != 1 || p1.Items[0].ID != "a2" || p1.Items[0].Title != "T2" {
				t.Errorf("page 1 items: %+v", p1.Items)
			}
			if p1.Total != 2 || !p1.HasNext {
				t.Errorf("page 1: total=%d hasNext=%v, want 2 true", p1.Total, p1.HasNext)
			}

			p2, err := e.List(ctx, "tech", 2, 1)
			must(t, err)
			if len(p2.Items) != 1 || p2.Items[0].ID != "a1" || p2.Items[0].Title != "T1" {
				t.Errorf("page 2 items: %+v", p2.Items)
			}
			if p2.HasNext {
				t.Error("page 2: hasNext = true, want false")
			}

			p3, err := e.List(ctx, "tech", 3, 1)
			must(t, err)
			if len(p3.Items) != 0 || p3.Total != 2 || p3.HasNext {
				t.Errorf("page past the end: %+v", p3)
			}
		})
	}
}

func TestSweepScenario(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store, WithClock(func() time.Time { return time.UnixMilli(1500 + 3600_000) }))
			must(t, e.Save(ctx, model.Record{ID: "a1", Category: "tech", Title: "T1", PublishTime: 1000}))
			must(t, e.Save(ctx, model.Record{ID: "a2", Category: "tech", Title: "T2", PublishTime: 2000}))

			res, err := e.Sweep(ctx, time.Hour)
			must(t, err)
			if res.Deleted != 1 || res.Cutoff != 1500 {
				t.Errorf("sweep: %+v", res)
			}
			page, err := e.List(ctx, "tech", 1, 10)
			must(t, err)
			if page.Total != 1 || !reflect.DeepEqual(ids(page.Items), []model.ID{"a2"}) {
				t.Errorf("after sweep: %+v", page)
			}
			if _, ok, err := e.Detail(ctx, "a1"); ok || err != nil {
				t.Errorf("swept detail: ok=%v err=%v, want absent", ok, err)
			}
		})
	}
}

func TestPaginationProperty(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store)
			const n = 7
			for i := 0; i < n; i++ {
				must(t, e.Save(ctx, model.Record{
					ID:          model.ID(fmt.Sprintf("r%d", i)),
					Category:    "c",
					PublishTime: int64(1000 * (i + 1)),
				}))
			}
			for _, size := range []int{1, 2, 3, 7, 10} {
				for page := 1; page <= 5; page++ {
					got, err := e.List(ctx, "c", page, size)
					must(t, err)
					want := min(size, max(0, n-(page-1)*size))
					if len(got.Items) != want || got.Total != n {
						t.Fatalf("List(c,%d,%d): %d items of %d, want %d of %d",
							page, size, len(got.Items), got.Total, want, n)
					}
					for i := 1; i < len(got.Items); i++ {
						if got.Items[i-1].PublishTime <= got.Items[i].PublishTime {
							t.Fatalf("List(c,%d,%d): not strictly descending: %v", page, size, ids(got.Items))
						}
					}
					if got.HasNext != (page*size < n) {
						t.Errorf("List(c,%d,%d): hasNext=%v", page, size, got.HasNext)
					}
				}
			}
			for _, page := range []int{1 << 62, 1<<62 + 1, math.MaxInt} {
				got, err := e.List(ctx, "c", page, 4)
				must(t, err)
				if len(got.Items) != 0 || got.HasNext || got.Total != n {
					t.Errorf("List(c,%d,4): %d items total=%d hasNext=%v, want empty page of %d",
						page, len(got.Items), got.Total, got.HasNext, n)
				}
			}
		})
	}
}

func TestResaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store)
			must(t, e.Save(ctx, model.Record{ID: "x", Category: "c", Title: "old", PublishTime: 1000}))
			must(t, e.Save(ctx, model.Record{ID: "y", Category: "c", PublishTime: 2000}))
			must(t, e.Save(ctx, model.Record{ID: "x", Category: "c", Title: "new", PublishTime: 3000}))

			for _, cat := range []string{"", "c"} {
				page, err := e.List(ctx, cat, 1, 10)
				must(t, err)
				if page.Total != 2 || !reflect.DeepEqual(ids(page.Items), []model.ID{"x", "y"}) {
					t.Errorf("List(%q): %+v", cat, page)
				}
			}
			d, ok, err := e.Detail(ctx, "x")
			must(t, err)
			if !ok || d.Title != "new" || d.PublishTime != 3000 {
				t.Errorf("detail after re-save: ok=%v %+v", ok, d)
			}
		})
	}
}

func TestListItemsHaveDetails(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store)
			for i, cat := range []string{"tech", "money", "tech", "sport"} {
				must(t, e.Save(ctx, model.Record{
					ID:          model.ID(fmt.Sprintf("id%d", i)),
					Category:    cat,
					Title:       cat,
					Content:     "<p>body</p>",
					PublishTime: int64(100 + i),
				}))
			}
			page, err := e.List(ctx, "", 1, 10)
			must(t, err)
			if len(page.Items) != 4 {
				t.Fatalf("global list: %+v", page)
			}
			for _, p := range page.Items {
				d, ok, err := e.Detail(ctx, p.ID)
				if err != nil || !ok {
					t.Errorf("Detail(%s): ok=%v err=%v", p.ID, ok, err)
					continue
				}
				if d.Projection != p || d.Content != "<p>body</p>" {
					t.Errorf("Detail(%s): %+v does not match %+v", p.ID, d, p)
				}
			}
			cats, err := e.Categories(ctx)
			must(t, err)
			if !reflect.DeepEqual(cats, []string{"money", "sport", "tech"}) {
				t.Errorf("categories: %v", cats)
			}
		})
	}
}

func TestExpiredStorageIsSkipped(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store, WithTTL(time.Hour))
			must(t, e.Save(ctx, model.Record{ID: "a", Category: "c", PublishTime: 1}))
			b.Advance(2 * time.Hour)
			must(t, e.Save(ctx, model.Record{ID: "b", Category: "c", PublishTime: 2}))

			page, err := e.List(ctx, "c", 1, 10)
			must(t, err)
			if page.Total != 2 || !reflect.DeepEqual(ids(page.Items), []model.ID{"b"}) {
				t.Errorf("list with expired storage: %+v", page)
			}
			if _, ok, err := e.Detail(ctx, "a"); ok || err != nil {
				t.Errorf("expired detail: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	for _, b := range kvtest.Backends(t) {
		t.Run(b.Name, func(t *testing.T) {
			e := New(b.Store)
			must(t, e.Save(ctx, model.Record{ID: "a", Category: "tech", PublishTime: 1}))
			must(t, e.Save(ctx, model.Record{ID: "b", Category: "tech", PublishTime: 2}))
			must(t, e.Save(ctx, model.Record{ID: "c", Category: "solo", PublishTime: 3}))

			must(t, e.Delete(ctx, "a", "tech"))
			must(t, e.Delete(ctx, "c", "solo"))
			must(t, e.Delete(ctx, "never", "tech"))

			page, err := e.List(ctx, "", 1, 10)
			must(t, err)
			if !reflect.DeepEqual(ids(page.Items), []model.ID{"b"}) || page.Total != 1 {
				t.Errorf("after delete: %+v", page)
			}
			cats, err := e.Categories(ctx)
			must(t, err)
			if !reflect.DeepEqual(cats, []string{"tech"}) {
				t.Errorf("categories after delete: %v", cats)
			}
		})
	}
}

func TestDefaultPublishTime(t *testing.T) {
	st, _ := kvtest.SQLite(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(st, WithClock(func() time.Time { return now }))
	must(t, e.Save(context.Background(), model.Record{ID: "a", Category: "c"}))
	d, ok, err := e.Detail(context.Background(), "a")
	if err != nil || !ok || d.PublishTime != now.UnixMilli() {
		t.Errorf("detail: ok=%v err=%v publish=%d", ok, err, d.PublishTime)
	}
}

func TestInvalidArguments(t *testing.T) {
	st, _ := kvtest.SQLite(t)
	e := New(st)
	ctx := context.Background()
	list := func(page, size int) error {
		_, err := e.List(ctx, "", page, size)
		return err
	}
	tests := []struct {
		name string
		err  error
	}{
		{"page 0", list(0, 10)},
		{"size 0", list(1, 0)},
		{"negative page", list(-1, 10)},
		{"save without id", e.Save(ctx, model.Record{Category: "c"})},
		{"save without category", e.Save(ctx, model.Record{ID: "a"})},
		{"delete without id", e.Delete(ctx, "", "c")},
		{"delete without category", e.Delete(ctx, "a", "")},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", tt.name, tt.err)
		}
	}
	if _, _, err := e.Detail(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("detail without id: got %v", err)
	}
	if _, err := e.Sweep(ctx, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("sweep with zero max age: got %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	st, mr := kvtest.Redis(t)
	e := New(st)
	mr.Close()
	ctx := context.Background()
	if err := e.Save(ctx, model.Record{ID: "a", Category: "c"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Save: got %v", err)
	}
	if _, err := e.List(ctx, "", 1, 10); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("List: got %v", err)
	}
	if _, _, err := e.Detail(ctx, "a"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Detail: got %v", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
