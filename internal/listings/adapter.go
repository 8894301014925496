// Package listings consumes the external listing source and normalizes its
// raw items into product observations. Connector specifics live behind the
// Adapter interface; the default mock adapter is offline-safe.
package listings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RawItem is one listing as delivered by the source, before validation.
// Price stays a string here: sources emit anything from "1980" to
// "¥29,737" and the normalizer owns the parsing.
type RawItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url"`
	URL      string `json:"url"`
	Status   string `json:"status"`
}

// Adapter fetches the fully de-paginated result set for one query. The
// returned order is the source's order; reconciliation preserves it.
type Adapter interface {
	Search(ctx context.Context, query string) ([]RawItem, error)
}

// HTTPAdapter consumes a JSON search endpoint:
//
//	GET {base}/search?q=<query>&status=on_sale&page=<n>
//	-> {"items": [...], "has_more": bool}
//
// Pages are drained until has_more is false or MaxPages is reached.
type HTTPAdapter struct {
	BaseURL  string
	MaxPages int
	Client   *http.Client
}

func NewHTTPAdapter(baseURL string, maxPages int) *HTTPAdapter {
	if maxPages <= 0 {
		maxPages = 5
	}
	return &HTTPAdapter{
		BaseURL:  baseURL,
		MaxPages: maxPages,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type searchPage struct {
	Items   []RawItem `json:"items"`
	HasMore bool      `json:"has_more"`
}

func (a *HTTPAdapter) Search(ctx context.Context, query string) ([]RawItem, error) {
	var all []RawItem
	for page := 1; page <= a.MaxPages; page++ {
		u := fmt.Sprintf("%s/search?%s", a.BaseURL, url.Values{
			"q":      {query},
			"status": {"on_sale"},
			"page":   {fmt.Sprint(page)},
		}.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("listing fetch page %d: %w", page, err)
		}
		var p searchPage
		err = json.NewDecoder(resp.Body).Decode(&p)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("listing fetch page %d: status %d", page, resp.StatusCode)
		}
		if err != nil {
			return nil, fmt.Errorf("listing fetch page %d: %w", page, err)
		}
		all = append(all, p.Items...)
		if !p.HasMore {
			break
		}
	}
	return all, nil
}

// MockAdapter returns a fixed result set. It backs offline runs and tests.
type MockAdapter struct {
	Items map[string][]RawItem // keyed by query
	Err   error
}

func (m *MockAdapter) Search(_ context.Context, query string) ([]RawItem, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Items[query], nil
}
