package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScheduleStore persists per-query last-run times so restarts do not
// re-scrape everything immediately.
type ScheduleStore interface {
	LastRun(ctx context.Context, queryName string) (time.Time, bool, error)
	RecordRun(ctx context.Context, queryName string, at time.Time) error
}

type PGScheduleStore struct {
	db *pgxpool.Pool
}

func NewPGScheduleStore(db *pgxpool.Pool) *PGScheduleStore {
	return &PGScheduleStore{db: db}
}

func (s *PGScheduleStore) LastRun(ctx context.Context, queryName string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRow(ctx,
		`SELECT last_run FROM schedule_state WHERE query_name = $1`, queryName).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *PGScheduleStore) RecordRun(ctx context.Context, queryName string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO schedule_state (query_name, last_run) VALUES ($1, $2)
ON CONFLICT (query_name) DO UPDATE SET last_run = EXCLUDED.last_run`,
		queryName, at)
	return err
}

// MemScheduleStore keeps schedule state in memory, for tests and
// offline runs.
type MemScheduleStore struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func NewMemScheduleStore() *MemScheduleStore {
	return &MemScheduleStore{runs: map[string]time.Time{}}
}

func (s *MemScheduleStore) LastRun(_ context.Context, queryName string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.runs[queryName]
	return t, ok, nil
}

func (s *MemScheduleStore) RecordRun(_ context.Context, queryName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[queryName] = at
	return nil
}

// isDue applies the schedule rule: never run before, or at least the
// query's interval has elapsed.
func isDue(last time.Time, known bool, interval time.Duration, now time.Time) bool {
	return !known || now.Sub(last) >= interval
}
