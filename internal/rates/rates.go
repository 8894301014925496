// Package rates supplies the exchange rate for the secondary-currency
// price. The rate is cached in the database and refreshed from a USD
// cross-rate API; a missing rate is tolerated and simply yields absent
// converted prices downstream.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Converter applies one run's exchange rate. The zero value converts
// nothing (no rate available).
type Converter struct {
	rate float64
	ok   bool
}

func NewConverter(rate float64) Converter {
	return Converter{rate: rate, ok: rate > 0}
}

func (c Converter) Available() bool { return c.ok }

// Convert returns the amount in the target currency's minor unit, rounded
// half to even, or nil when no rate is available. Never a sentinel zero.
func (c Converter) Convert(amount int64) *int64 {
	if !c.ok {
		return nil
	}
	v := int64(math.RoundToEven(float64(amount) * c.rate))
	return &v
}

// Source yields the converter for the current run.
type Source interface {
	Current(ctx context.Context) Converter
}

// Service reads the cached rate from the exchange_rates table and falls
// back to the cross-rate API when the cache is stale or empty. A stale
// cached value still beats no value when the API is down.
type Service struct {
	db     *pgxpool.Pool
	log    *zap.Logger
	apiURL string
	from   string // e.g. "JPY"
	to     string // e.g. "TWD"
	maxAge time.Duration
	client *http.Client
}

func NewService(db *pgxpool.Pool, log *zap.Logger, apiURL, from, to string, maxAge time.Duration) *Service {
	return &Service{
		db:     db,
		log:    log,
		apiURL: apiURL,
		from:   from,
		to:     to,
		maxAge: maxAge,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Service) pair() string { return s.from + "_" + s.to }

func (s *Service) Current(ctx context.Context) Converter {
	rate, updatedAt, err := s.cached(ctx)
	if err == nil && time.Since(updatedAt) <= s.maxAge {
		return NewConverter(rate)
	}

	fetched, fetchErr := s.fetch(ctx)
	if fetchErr == nil {
		if storeErr := s.storeRate(ctx, fetched); storeErr != nil {
			s.log.Warn("storing exchange rate failed", zap.Error(storeErr))
		}
		return NewConverter(fetched)
	}
	s.log.Warn("exchange rate fetch failed", zap.String("pair", s.pair()), zap.Error(fetchErr))

	if err == nil {
		s.log.Info("using stale cached exchange rate",
			zap.String("pair", s.pair()), zap.Time("updated_at", updatedAt))
		return NewConverter(rate)
	}
	return Converter{}
}

func (s *Service) cached(ctx context.Context) (float64, time.Time, error) {
	var rate float64
	var updatedAt time.Time
	err := s.db.QueryRow(ctx,
		`SELECT rate, updated_at FROM exchange_rates WHERE pair = $1`, s.pair()).
		Scan(&rate, &updatedAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return rate, updatedAt, nil
}

func (s *Service) storeRate(ctx context.Context, rate float64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO exchange_rates (pair, rate, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (pair) DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at`,
		s.pair(), rate, time.Now())
	return err
}

// The API exposes USD-based quotes; the pair rate is derived as the cross
// rate USD->to / USD->from.
type apiQuote struct {
	Exrate float64 `json:"Exrate"`
}

func (s *Service) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate api: status %d", resp.StatusCode)
	}
	var quotes map[string]apiQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return 0, err
	}
	usdFrom := quotes["USD"+s.from].Exrate
	usdTo := quotes["USD"+s.to].Exrate
	if usdFrom <= 0 || usdTo <= 0 {
		return 0, fmt.Errorf("rate api: missing USD%s or USD%s quote", s.from, s.to)
	}
	return usdTo / usdFrom, nil
}

// Fixed is a Source with a constant rate, for tests and offline runs.
type Fixed struct{ Rate float64 }

func (f Fixed) Current(context.Context) Converter { return NewConverter(f.Rate) }
