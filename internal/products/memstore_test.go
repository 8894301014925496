package products

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemStoreUpsertCreatesWithLowestEqualLast(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	err := s.Upsert(ctx, Record{ID: "p1", QueryName: "q", PriceSource: 1000, FirstSeen: t0, LastUpdated: t0})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LowestSource != 1000 || rec.PriceSource != 1000 {
		t.Errorf("last/lowest = %d/%d, want 1000/1000", rec.PriceSource, rec.LowestSource)
	}
}

func TestMemStoreUpsertRederivesLowestFromStoredRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	base := Record{ID: "p1", QueryName: "q", PriceSource: 1000, FirstSeen: t0, LastUpdated: t0}
	if err := s.Upsert(ctx, base); err != nil {
		t.Fatal(err)
	}

	// A stale caller claims lowest=1000 while writing price 1200; the
	// store must keep its own minimum, and first_seen must not move.
	update := base
	update.PriceSource = 1200
	update.LowestSource = 1000
	update.FirstSeen = t1
	update.LastUpdated = t1
	if err := s.Upsert(ctx, update); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Get(ctx, "p1")
	if rec.LowestSource != 1000 {
		t.Errorf("lowest = %d, want 1000", rec.LowestSource)
	}
	if rec.PriceSource != 1200 {
		t.Errorf("last = %d, want 1200", rec.PriceSource)
	}
	if !rec.FirstSeen.Equal(t0) {
		t.Errorf("first_seen = %v, want %v (immutable)", rec.FirstSeen, t0)
	}
}

// Two concurrent runs observing different lower prices must converge on
// the true minimum regardless of write order.
func TestMemStoreConcurrentUpsertsKeepTrueMinimum(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Upsert(ctx, Record{ID: "p1", QueryName: "q", PriceSource: 1000, FirstSeen: t0, LastUpdated: t0}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, price := range []int64{700, 750} {
		wg.Add(1)
		go func(p int64) {
			defer wg.Done()
			_ = s.Upsert(ctx, Record{ID: "p1", QueryName: "q", PriceSource: p, FirstSeen: t1, LastUpdated: t1})
		}(price)
	}
	wg.Wait()

	rec, _ := s.Get(ctx, "p1")
	if rec.LowestSource != 700 {
		t.Errorf("lowest = %d, want 700 regardless of write order", rec.LowestSource)
	}
}

func TestMemStoreGetByIDsReturnsOnlyKnown(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_ = s.Upsert(ctx, Record{ID: "p1", QueryName: "q", PriceSource: 100, FirstSeen: t0, LastUpdated: t0})

	got, err := s.GetByIDs(ctx, []string{"p1", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Error("unknown id must be absent from the snapshot, not zero-valued")
	}
}

func TestMemStoreGetUnknownID(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreIgnoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.AddIgnored(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddIgnored(ctx, "p1"); err != nil {
		t.Fatal(err) // adding twice is fine
	}
	ignored, _ := s.Ignored(ctx)
	if !ignored["p1"] {
		t.Fatal("p1 should be ignored")
	}

	list, _ := s.ListIgnored(ctx)
	if len(list) != 1 || list[0].ID != "p1" || list[0].AddedAt.IsZero() {
		t.Fatalf("unexpected ignore list %+v", list)
	}

	if err := s.RemoveIgnored(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	ignored, _ = s.Ignored(ctx)
	if ignored["p1"] {
		t.Fatal("p1 should no longer be ignored")
	}
}

func TestMemStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_ = s.Upsert(ctx, Record{ID: "p1", QueryName: "q", PriceSource: 100, FirstSeen: t0, LastUpdated: t0})
	_ = s.Upsert(ctx, Record{ID: "p2", QueryName: "q", PriceSource: 200, FirstSeen: t0, LastUpdated: t0})
	_ = s.AddIgnored(ctx, "p9")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Products != 2 || st.Ignored != 1 {
		t.Errorf("stats = %+v, want 2 products / 1 ignored", st)
	}
}

func TestMemStoreGetAllFiltersByQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_ = s.Upsert(ctx, Record{ID: "a", QueryName: "q1", PriceSource: 1, FirstSeen: t0, LastUpdated: t0})
	_ = s.Upsert(ctx, Record{ID: "b", QueryName: "q2", PriceSource: 2, FirstSeen: t0, LastUpdated: t0.Add(time.Hour)})

	all, _ := s.GetAll(ctx, "")
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
	if all[0].ID != "b" {
		t.Errorf("expected most recently updated first, got %s", all[0].ID)
	}

	q1, _ := s.GetAll(ctx, "q1")
	if len(q1) != 1 || q1[0].ID != "a" {
		t.Fatalf("q1 = %+v, want only a", q1)
	}
}
