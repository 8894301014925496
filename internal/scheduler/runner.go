package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deltaguita/market-tracker/internal/config"
	"github.com/deltaguita/market-tracker/internal/listings"
	"github.com/deltaguita/market-tracker/internal/notify"
	"github.com/deltaguita/market-tracker/internal/products"
	"github.com/deltaguita/market-tracker/internal/rates"
)

type step string

const (
	stepFetching    step = "FETCHING"
	stepNormalizing step = "NORMALIZING"
	stepReconciling step = "RECONCILING"
	stepNotifying   step = "NOTIFYING"
	stepCommitting  step = "COMMITTING"
)

// Runner executes one tracked query end to end:
// fetch -> normalize -> convert -> reconcile -> notify -> commit.
// An error return means the run aborted at or before reconciliation and
// the store was not touched; notification failures and individual commit
// failures never abort a run.
type Runner struct {
	store    products.Store
	adapter  listings.Adapter
	rates    rates.Source
	notifier *notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewRunner(store products.Store, adapter listings.Adapter, src rates.Source, notifier *notify.Notifier, log *zap.Logger) *Runner {
	return &Runner{
		store:    store,
		adapter:  adapter,
		rates:    src,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

func (r *Runner) RunQuery(ctx context.Context, q config.TrackedQuery) error {
	log := r.log.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("query", q.Name),
	)
	started := r.now()

	raw, err := r.adapter.Search(ctx, q.Query)
	if err != nil {
		return fmt.Errorf("%s: %w", stepFetching, err)
	}

	obs, dropped := listings.NormalizeAll(raw, started)
	if dropped > 0 {
		log.Warn("dropped malformed listing items",
			zap.String("step", string(stepNormalizing)),
			zap.Int("dropped", dropped))
	}
	if len(obs) == 0 {
		log.Info("no usable observations, nothing to reconcile",
			zap.Int("raw_items", len(raw)))
		return nil
	}

	// The rate is refreshed at most once per run; its absence leaves the
	// converted prices nil and the run proceeds.
	converter := r.rates.Current(ctx)
	for i := range obs {
		obs[i].PriceConverted = converter.Convert(obs[i].PriceSource)
	}

	ids := make([]string, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	prior, err := r.store.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("%s: read snapshot: %w", stepReconciling, err)
	}
	ignored, err := r.store.Ignored(ctx)
	if err != nil {
		return fmt.Errorf("%s: read ignore list: %w", stepReconciling, err)
	}

	res := products.Reconcile(products.ReconcileInput{
		QueryName:    q.Name,
		Observations: obs,
		Prior:        prior,
		Ignored:      ignored,
		MaxConverted: q.MaxConverted,
	})

	// Best effort; mutations are committed regardless of delivery outcome.
	sent, failedSends := r.notifier.NotifyAll(ctx, res.Events)
	if failedSends > 0 {
		log.Warn("some notifications were not delivered",
			zap.String("step", string(stepNotifying)),
			zap.Int("failed", failedSends))
	}

	// Per-record commit: a failed upsert loses that one product's update,
	// not the batch.
	var commitFailures int
	for _, rec := range res.Records {
		if err := r.store.Upsert(ctx, rec); err != nil {
			commitFailures++
			log.Error("upsert failed",
				zap.String("step", string(stepCommitting)),
				zap.String("product_id", rec.ID),
				zap.Error(err))
		}
	}

	log.Info("run complete",
		zap.Int("observations", len(obs)),
		zap.Int("events", len(res.Events)),
		zap.Int("skipped_ignored", res.SkippedIgnored),
		zap.Int("notified", sent),
		zap.Int("notify_failures", failedSends),
		zap.Int("commit_failures", commitFailures),
		zap.Bool("rate_available", converter.Available()),
		zap.Duration("elapsed", r.now().Sub(started)))
	return nil
}
