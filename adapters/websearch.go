package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

	// Minimum spacing between search calls; the backend rate-limits
	// aggressively on free tiers.
	searchMinInterval = 1 * time.Second
)

// braveClient wraps the Brave web-search API with a client-side politeness
// delay shared across all callers.
type braveClient struct {
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.Mutex
	lastCall time.Time
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *braveClient) waitTurn(ctx context.Context) error {
	b.mu.Lock()
	wait := searchMinInterval - time.Since(b.lastCall)
	b.lastCall = time.Now().Add(wait)
	b.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (b *braveClient) search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := b.waitTurn(ctx); err != nil {
		return nil, err
	}

	endpoint := braveSearchURL + "?" + url.Values{"q": {query}, "count": {"10"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.logger.Warn().Int("status", resp.StatusCode).Str("query", query).Msg("web_search_non_200")
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	var parsed braveResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}

// NewBraveSearch returns a SearchFunc backed by the Brave API, or nil when
// no key is configured.
func NewBraveSearch(apiKey string, timeout time.Duration, logger zerolog.Logger) SearchFunc {
	if apiKey == "" {
		return nil
	}
	client := &braveClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	return client.search
}
