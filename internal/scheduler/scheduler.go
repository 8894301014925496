package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deltaguita/market-tracker/internal/config"
)

// Scheduler drives the tracked queries. Every CheckInterval it looks for
// due queries and runs them, each in its own goroutine; the only state
// shared between concurrent runs is the durable store. One pass finishes
// before the next is considered, so a slow query cannot pile up on itself.
type Scheduler struct {
	queries       []config.TrackedQuery
	runner        *Runner
	state         ScheduleStore
	checkInterval time.Duration
	log           *zap.Logger
}

func New(queries []config.TrackedQuery, runner *Runner, state ScheduleStore, checkInterval time.Duration, log *zap.Logger) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &Scheduler{
		queries:       queries,
		runner:        runner,
		state:         state,
		checkInterval: checkInterval,
		log:           log,
	}
}

// Run blocks until ctx is cancelled. The first pass happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Int("queries", len(s.queries)),
		zap.Duration("check_interval", s.checkInterval))

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// RunAll runs every query once, ignoring schedule state. Used by the
// -once flag for cron-style deployments.
func (s *Scheduler) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, q := range s.queries {
		wg.Add(1)
		go func(q config.TrackedQuery) {
			defer wg.Done()
			s.runOne(ctx, q)
		}(q)
	}
	wg.Wait()
}

func (s *Scheduler) pass(ctx context.Context) {
	now := time.Now()
	var wg sync.WaitGroup
	for _, q := range s.queries {
		last, known, err := s.state.LastRun(ctx, q.Name)
		if err != nil {
			s.log.Error("schedule state read failed", zap.String("query", q.Name), zap.Error(err))
			continue
		}
		if !isDue(last, known, q.Interval(), now) {
			continue
		}
		wg.Add(1)
		go func(q config.TrackedQuery) {
			defer wg.Done()
			s.runOne(ctx, q)
		}(q)
	}
	wg.Wait()
}

// runOne executes a query and records the attempt. Failures are isolated:
// they mark the query as attempted (retry waits for the next interval, a
// broken source should not hammer) and never touch other queries.
func (s *Scheduler) runOne(ctx context.Context, q config.TrackedQuery) {
	if err := s.runner.RunQuery(ctx, q); err != nil {
		s.log.Error("run failed", zap.String("query", q.Name), zap.Error(err))
	}
	if err := s.state.RecordRun(ctx, q.Name, time.Now()); err != nil {
		s.log.Error("recording run time failed", zap.String("query", q.Name), zap.Error(err))
	}
}
