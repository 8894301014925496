package products

import "time"

// Observation is one product as seen in a single scrape pass. It is
// ephemeral: the reconciliation engine consumes a batch of observations
// and the batch is discarded after the run.
type Observation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	PriceSource    int64     `json:"price_source"`
	PriceConverted *int64    `json:"price_converted,omitempty"` // nil when no exchange rate was available
	ImageURL       string    `json:"image_url"`
	ProductURL     string    `json:"product_url"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Record is the persisted state for one product id. Only the latest and
// the lowest-ever prices are kept; there is no per-run history.
type Record struct {
	ID              string    `json:"id"`
	QueryName       string    `json:"query_name"`
	Title           string    `json:"title"`
	PriceSource     int64     `json:"price_source"`
	PriceConverted  *int64    `json:"price_converted,omitempty"`
	LowestSource    int64     `json:"lowest_source"`
	LowestConverted *int64    `json:"lowest_converted,omitempty"`
	ImageURL        string    `json:"image_url"`
	ProductURL      string    `json:"product_url"`
	FirstSeen       time.Time `json:"first_seen"`
	LastUpdated     time.Time `json:"last_updated"`
}

type EventKind string

const (
	EventNew       EventKind = "NEW"
	EventPriceDrop EventKind = "PRICE_DROP"
)

// Event is a notification-worthy outcome of reconciliation. The drop
// fields are populated for PRICE_DROP only and always refer to the
// source-currency price, which is the comparison basis.
type Event struct {
	Kind      EventKind   `json:"kind"`
	QueryName string      `json:"query_name"`
	Product   Observation `json:"product"`

	OldLowestSource    int64   `json:"old_lowest_source,omitempty"`
	OldLowestConverted *int64  `json:"old_lowest_converted,omitempty"`
	DropAmount         int64   `json:"drop_amount,omitempty"`
	DropPercent        float64 `json:"drop_percent,omitempty"`

	// Budget flags, relative to the tracked query's optional maximum
	// converted price.
	WithinBudget      bool `json:"within_budget,omitempty"`
	DroppedIntoBudget bool `json:"dropped_into_budget,omitempty"`
}

// IgnoredProduct is an id the user has dismissed; reconciliation skips it.
type IgnoredProduct struct {
	ID      string    `json:"id"`
	AddedAt time.Time `json:"added_at"`
}

// Stats is a small operational summary served by the HTTP API.
type Stats struct {
	Products int64 `json:"products"`
	Ignored  int64 `json:"ignored"`
}
