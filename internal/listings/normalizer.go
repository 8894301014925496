package listings

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deltaguita/market-tracker/internal/products"
)

// ErrSkip marks a raw item that cannot become an observation (no usable
// id or price). Skipped items are counted by NormalizeAll, never fatal.
var ErrSkip = errors.New("unusable listing item")

// Listing URLs carry the platform id in one of a few known path shapes.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/products/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`/item/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`/jp/([a-zA-Z0-9]+)`),
}

var priceDigits = regexp.MustCompile(`[\d,]+`)

// Normalize validates one raw item into an observation. The converted
// price is left nil; currency conversion is a separate stage.
func Normalize(raw RawItem, observedAt time.Time) (products.Observation, error) {
	id := raw.ID
	if id == "" {
		id = extractID(raw.URL)
	}
	if id == "" {
		return products.Observation{}, ErrSkip
	}
	price, ok := parsePrice(raw.Price)
	if !ok || price <= 0 {
		return products.Observation{}, ErrSkip
	}
	return products.Observation{
		ID:          id,
		Title:       strings.TrimSpace(raw.Title),
		PriceSource: price,
		ImageURL:    raw.ImageURL,
		ProductURL:  raw.URL,
		ObservedAt:  observedAt,
	}, nil
}

// NormalizeAll converts a batch, dropping and counting unusable items.
func NormalizeAll(raw []RawItem, observedAt time.Time) (obs []products.Observation, dropped int) {
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		o, err := Normalize(item, observedAt)
		if err != nil {
			dropped++
			continue
		}
		// Sources occasionally repeat an item across pages; ids are unique
		// within a run's result set, first occurrence wins.
		if seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		obs = append(obs, o)
	}
	return obs, dropped
}

func extractID(productURL string) string {
	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(productURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// parsePrice pulls an integer amount out of price text such as "1980",
// "¥29,737" or "29,737 JPY". The largest digit group wins, which skips
// stray counts that sometimes share the field.
func parsePrice(text string) (int64, bool) {
	var best int64
	for _, m := range priceDigits.FindAllString(text, -1) {
		n, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	return best, best > 0
}
