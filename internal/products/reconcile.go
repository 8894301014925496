package products

// Reconciliation compares one scrape pass against the stored snapshot and
// decides what is notification-worthy. It is a pure function: no I/O, no
// clock, no shared state, so it can run concurrently for disjoint queries
// and is trivially testable against in-memory snapshots.

// ReconcileInput carries everything one reconciliation pass needs.
type ReconcileInput struct {
	QueryName string

	// Observations from the current scrape, in scrape order. Event order
	// follows this order.
	Observations []Observation

	// Prior is the stored snapshot for (at least) the observed ids,
	// freshly read from the store at the start of the pass.
	Prior map[string]Record

	// Ignored ids are skipped entirely: no event, no mutation.
	Ignored map[string]bool

	// MaxConverted is the query's optional budget in the converted
	// currency; nil means no budget and no budget flags.
	MaxConverted *int64
}

// ReconcileResult is the outcome: events to emit and the full records to
// upsert. Records for ids absent from the observations never appear here;
// a listing that disappeared from the search results is left untouched.
type ReconcileResult struct {
	Events  []Event
	Records []Record

	// SkippedIgnored counts observations dropped via the ignore list.
	SkippedIgnored int
}

// Reconcile applies the engine rules:
//
//   - id not stored yet: NEW event, record created with lowest == last.
//   - id stored and the observed source price is strictly below the
//     lowest ever seen: PRICE_DROP event, lowest updated.
//   - otherwise: silent refresh of the last-* fields; lowest keeps its
//     value (prices may rise or return to a previous low without a new
//     event).
//
// The comparison basis is always the source-currency price; the converted
// price moves with the exchange rate and would produce false drops.
func Reconcile(in ReconcileInput) ReconcileResult {
	var res ReconcileResult
	for _, obs := range in.Observations {
		if in.Ignored[obs.ID] {
			res.SkippedIgnored++
			continue
		}

		prior, known := in.Prior[obs.ID]
		if !known {
			res.Events = append(res.Events, Event{
				Kind:         EventNew,
				QueryName:    in.QueryName,
				Product:      obs,
				WithinBudget: withinBudget(obs.PriceConverted, in.MaxConverted),
			})
			res.Records = append(res.Records, Record{
				ID:              obs.ID,
				QueryName:       in.QueryName,
				Title:           obs.Title,
				PriceSource:     obs.PriceSource,
				PriceConverted:  obs.PriceConverted,
				LowestSource:    obs.PriceSource,
				LowestConverted: obs.PriceConverted,
				ImageURL:        obs.ImageURL,
				ProductURL:      obs.ProductURL,
				FirstSeen:       obs.ObservedAt,
				LastUpdated:     obs.ObservedAt,
			})
			continue
		}

		next := prior
		next.QueryName = in.QueryName
		next.Title = obs.Title
		next.PriceSource = obs.PriceSource
		next.PriceConverted = obs.PriceConverted
		next.ImageURL = obs.ImageURL
		next.ProductURL = obs.ProductURL
		next.LastUpdated = obs.ObservedAt
		next.LowestSource = minInt64(prior.LowestSource, obs.PriceSource)
		next.LowestConverted = minOptional(prior.LowestConverted, obs.PriceConverted)

		// Strictly below the lowest ever seen. Equal is not a drop, and a
		// price that rose and came back down to an old low stays silent.
		if prior.LowestSource > 0 && obs.PriceSource < prior.LowestSource {
			old := prior.LowestSource
			drop := old - obs.PriceSource
			res.Events = append(res.Events, Event{
				Kind:               EventPriceDrop,
				QueryName:          in.QueryName,
				Product:            obs,
				OldLowestSource:    old,
				OldLowestConverted: prior.LowestConverted,
				DropAmount:         drop,
				DropPercent:        float64(drop) / float64(old) * 100,
				DroppedIntoBudget:  droppedIntoBudget(prior.PriceConverted, obs.PriceConverted, in.MaxConverted),
			})
		}
		res.Records = append(res.Records, next)
	}
	return res
}

func withinBudget(price, max *int64) bool {
	return max != nil && price != nil && *price <= *max
}

// droppedIntoBudget reports a price that crossed from above the budget to
// at-or-below it, in the converted currency.
func droppedIntoBudget(oldPrice, newPrice, max *int64) bool {
	if max == nil || oldPrice == nil || newPrice == nil {
		return false
	}
	return *oldPrice > *max && *newPrice <= *max
}

func minInt64(a, b int64) int64 {
	if b < a {
		return b
	}
	return a
}

// minOptional treats nil as "no information": the known value wins, and
// two known values compare normally. This keeps a temporarily missing
// exchange rate from erasing the stored converted low.
func minOptional(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	default:
		return a
	}
}
