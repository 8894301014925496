package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deltaguita/market-tracker/internal/config"
	"github.com/deltaguita/market-tracker/internal/listings"
	"github.com/deltaguita/market-tracker/internal/notify"
	"github.com/deltaguita/market-tracker/internal/products"
	"github.com/deltaguita/market-tracker/internal/rates"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	interval := 4 * time.Hour

	cases := []struct {
		name  string
		last  time.Time
		known bool
		want  bool
	}{
		{"never ran", time.Time{}, false, true},
		{"interval elapsed", now.Add(-5 * time.Hour), true, true},
		{"exactly at interval", now.Add(-4 * time.Hour), true, true},
		{"too recent", now.Add(-time.Hour), true, false},
	}
	for _, tc := range cases {
		if got := isDue(tc.last, tc.known, interval, now); got != tc.want {
			t.Errorf("%s: isDue = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestScheduleStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemScheduleStore()

	if _, known, _ := s.LastRun(ctx, "q"); known {
		t.Fatal("fresh store should know nothing")
	}
	at := time.Now()
	if err := s.RecordRun(ctx, "q", at); err != nil {
		t.Fatal(err)
	}
	got, known, _ := s.LastRun(ctx, "q")
	if !known || !got.Equal(at) {
		t.Fatalf("LastRun = %v,%v", got, known)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestRunner(store products.Store, adapter listings.Adapter, sender notify.Sender) *Runner {
	notifier := notify.New(sender, notify.Labels{SourceSymbol: "¥", ConvertedSymbol: "NT$"}, zap.NewNop())
	return NewRunner(store, adapter, rates.Fixed{Rate: 0.2}, notifier, zap.NewNop())
}

func trackedQuery() config.TrackedQuery {
	return config.TrackedQuery{Name: "kits", Query: "MG", IntervalHours: 4}
}

// Full pipeline against the in-memory store: first run creates and
// notifies, an identical second run is silent, a price drop notifies once.
func TestRunQueryEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := products.NewMemStore()
	adapter := &listings.MockAdapter{Items: map[string][]listings.RawItem{
		"MG": {
			{ID: "p1", Title: "kit one", Price: "1,000", URL: "https://m.test/products/p1"},
			{ID: "p2", Title: "kit two", Price: "500", URL: "https://m.test/products/p2"},
			{Title: "broken", Price: ""}, // dropped, not fatal
		},
	}}
	sender := &recordingSender{}
	runner := newTestRunner(store, adapter, sender)
	q := trackedQuery()

	if err := runner.RunQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	if got := sender.count(); got != 2 {
		t.Fatalf("first run notifications = %d, want 2 NEW", got)
	}
	rec, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PriceSource != 1000 || rec.LowestSource != 1000 {
		t.Errorf("p1 last/lowest = %d/%d", rec.PriceSource, rec.LowestSource)
	}
	if rec.PriceConverted == nil || *rec.PriceConverted != 200 {
		t.Errorf("p1 converted = %v, want 200 at rate 0.2", rec.PriceConverted)
	}

	// Identical second run: no notifications, state unchanged.
	if err := runner.RunQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	if got := sender.count(); got != 2 {
		t.Fatalf("second run added notifications: total %d, want still 2", got)
	}

	// Price drop on p1; p2 disappears and must stay untouched.
	adapter.Items["MG"] = []listings.RawItem{
		{ID: "p1", Title: "kit one", Price: "800", URL: "https://m.test/products/p1"},
	}
	if err := runner.RunQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	if got := sender.count(); got != 3 {
		t.Fatalf("drop run notifications = %d, want 3 total", got)
	}
	rec, _ = store.Get(ctx, "p1")
	if rec.PriceSource != 800 || rec.LowestSource != 800 {
		t.Errorf("p1 after drop last/lowest = %d/%d, want 800/800", rec.PriceSource, rec.LowestSource)
	}
	p2, err := store.Get(ctx, "p2")
	if err != nil {
		t.Fatal(err)
	}
	if p2.PriceSource != 500 {
		t.Errorf("p2 mutated despite disappearing: %+v", p2)
	}
}

func TestRunQueryIgnoredProduct(t *testing.T) {
	ctx := context.Background()
	store := products.NewMemStore()
	_ = store.AddIgnored(ctx, "p1")

	adapter := &listings.MockAdapter{Items: map[string][]listings.RawItem{
		"MG": {{ID: "p1", Title: "kit", Price: "1000"}},
	}}
	sender := &recordingSender{}
	runner := newTestRunner(store, adapter, sender)

	if err := runner.RunQuery(ctx, trackedQuery()); err != nil {
		t.Fatal(err)
	}
	if sender.count() != 0 {
		t.Error("ignored product must not notify")
	}
	if _, err := store.Get(ctx, "p1"); !errors.Is(err, products.ErrNotFound) {
		t.Error("ignored product must not be stored")
	}
}

// A fetch failure aborts the run before any store access.
func TestRunQueryFetchFailure(t *testing.T) {
	store := products.NewMemStore()
	adapter := &listings.MockAdapter{Err: errors.New("listing source down")}
	sender := &recordingSender{}
	runner := newTestRunner(store, adapter, sender)

	err := runner.RunQuery(context.Background(), trackedQuery())
	if err == nil {
		t.Fatal("expected an error")
	}
	if sender.count() != 0 {
		t.Error("no notifications on a failed fetch")
	}
	st, _ := store.Stats(context.Background())
	if st.Products != 0 {
		t.Error("store must stay untouched on a failed fetch")
	}
}

// RunAll executes concurrently for disjoint queries without shared state
// beyond the store.
func TestRunAllIsolatesQueryFailures(t *testing.T) {
	ctx := context.Background()
	store := products.NewMemStore()
	adapter := &listings.MockAdapter{Items: map[string][]listings.RawItem{
		"ok": {{ID: "p1", Title: "kit", Price: "1000"}},
	}}
	sender := &recordingSender{}
	runner := newTestRunner(store, adapter, sender)
	sched := New([]config.TrackedQuery{
		{Name: "a", Query: "ok", IntervalHours: 1},
		{Name: "b", Query: "missing", IntervalHours: 1},
	}, runner, NewMemScheduleStore(), time.Minute, zap.NewNop())

	sched.RunAll(ctx)

	if sender.count() != 1 {
		t.Errorf("notifications = %d, want 1 from the healthy query", sender.count())
	}
	if rec, err := store.Get(ctx, "p1"); err != nil || rec.QueryName != "a" {
		t.Errorf("p1 record = %+v, %v", rec, err)
	}
}
