package products

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and by offline runs with
// the mock listing adapter. It applies the same lowest-price recomputation
// as the SQL upsert, under a mutex, so the concurrency properties match.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
	ignored map[string]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: map[string]Record{},
		ignored: map[string]time.Time{},
	}
}

func (s *MemStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemStore) GetByIDs(_ context.Context, ids []string) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (s *MemStore) GetAll(_ context.Context, queryName string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if queryName == "" || r.QueryName == queryName {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (s *MemStore) Upsert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.records[rec.ID]
	if !ok {
		rec.LowestSource = rec.PriceSource
		rec.LowestConverted = rec.PriceConverted
		s.records[rec.ID] = rec
		return nil
	}
	// Re-derive the lows from the stored row, not from the caller's copy.
	rec.FirstSeen = prior.FirstSeen
	rec.LowestSource = minInt64(prior.LowestSource, rec.PriceSource)
	rec.LowestConverted = minOptional(prior.LowestConverted, rec.PriceConverted)
	s.records[rec.ID] = rec
	return nil
}

func (s *MemStore) Ignored(_ context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.ignored))
	for id := range s.ignored {
		out[id] = true
	}
	return out, nil
}

func (s *MemStore) AddIgnored(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ignored[id]; !ok {
		s.ignored[id] = time.Now()
	}
	return nil
}

func (s *MemStore) RemoveIgnored(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ignored, id)
	return nil
}

func (s *MemStore) ListIgnored(_ context.Context) ([]IgnoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IgnoredProduct, 0, len(s.ignored))
	for id, at := range s.ignored {
		out = append(out, IgnoredProduct{ID: id, AddedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Products: int64(len(s.records)), Ignored: int64(len(s.ignored))}, nil
}
