// Package aggregator talks to the aggregator's catalogue and usage
// endpoints: model listing, provider listing, and tiny BYOK spot-check
// calls.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/schemas"
)

const (
	maxAttempts     = 3
	baseBackoff     = 1 * time.Second
	defaultCooldown = 60 * time.Second

	refererHeader = "https://github.com/g2scv/llm-cost"
	titleHeader   = "llm-cost"
)

// ErrRateLimited is returned while the client is inside a 429 cooldown.
var ErrRateLimited = errors.New("aggregator rate limited")

// Client is a concurrency-safe HTTP client for the aggregator API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger

	// retryBackoff is the base delay between attempts; shortened in tests.
	retryBackoff time.Duration

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewClient creates a Client rooted at baseURL (no trailing slash).
func NewClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
		retryBackoff: baseBackoff,
	}
}

func (c *Client) inCooldown() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := time.Until(c.cooldownUntil)
	return remaining, remaining > 0
}

func (c *Client) startCooldown(resp *http.Response) {
	cooldown := defaultCooldown
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			cooldown = time.Duration(secs) * time.Second
		}
	}
	c.mu.Lock()
	c.cooldownUntil = time.Now().Add(cooldown)
	c.mu.Unlock()
	c.logger.Warn().Dur("cooldown", cooldown).Msg("aggregator_rate_limit_cooldown")
}

// doJSON performs one API call with bounded exponential backoff. Transport
// errors and 5xx responses are retried; 4xx responses propagate immediately.
// A 429 starts the client-wide cooldown.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if remaining, limited := c.inCooldown(); limited {
		c.logger.Debug().Dur("remaining", remaining).Str("path", path).Msg("skipping_call_during_cooldown")
		return ErrRateLimited
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.retryBackoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", refererHeader)
		req.Header.Set("X-Title", titleHeader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.startCooldown(resp)
			return ErrRateLimited
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("aggregator returned HTTP %d for %s", resp.StatusCode, path)
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("aggregator returned HTTP %d for %s: %s", resp.StatusCode, path, truncate(data, 256))
		}

		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response from %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("aggregator call %s failed after %d attempts: %w", path, maxAttempts, lastErr)
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		data = data[:n]
	}
	return string(data)
}

type modelsResponse struct {
	Data []schemas.AggregatorModel `json:"data"`
}

type providersResponse struct {
	Data []schemas.AggregatorProvider `json:"data"`
}

// ListModels returns the aggregator's catalogue narrowed by filters. The
// supported-parameters and distillable filters are forwarded server-side;
// everything is re-checked client-side.
func (c *Client) ListModels(ctx context.Context, filters schemas.ModelFilters) ([]schemas.AggregatorModel, error) {
	query := url.Values{}
	if len(filters.SupportedParameters) > 0 {
		query.Set("supported_parameters", strings.Join(filters.SupportedParameters, ","))
	}
	if filters.Distillable != nil {
		query.Set("distillable", strconv.FormatBool(*filters.Distillable))
	}

	var resp modelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/models", query, nil, &resp); err != nil {
		return nil, err
	}

	models := make([]schemas.AggregatorModel, 0, len(resp.Data))
	for _, m := range resp.Data {
		if matchesFilters(m, filters) {
			models = append(models, m)
		}
	}
	c.logger.Debug().Int("total", len(resp.Data)).Int("matched", len(models)).Msg("listed_aggregator_models")
	return models, nil
}

// ListProviders returns the aggregator's provider feed.
func (c *Client) ListProviders(ctx context.Context) ([]schemas.AggregatorProvider, error) {
	var resp providersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/providers", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type byokRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Usage     struct {
		Include bool `json:"include"`
	} `json:"usage"`
}

type byokResponse struct {
	Usage *struct {
		PromptTokens     int      `json:"prompt_tokens"`
		CompletionTokens int      `json:"completion_tokens"`
		Cost             *float64 `json:"cost"`
		CostDetails      *struct {
			UpstreamInferenceCost *float64 `json:"upstream_inference_cost"`
		} `json:"cost_details"`
	} `json:"usage"`
}

// TinyBYOKCall sends a minimal one-token completion asking for the usage and
// cost breakdown. Used only for spot-checks; terminal failures are not
// retried by callers within a tick.
func (c *Client) TinyBYOKCall(ctx context.Context, modelSlug string) (*schemas.UsageReport, error) {
	req := byokRequest{
		Model:     modelSlug,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	req.Usage.Include = true

	start := time.Now()
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/chat/completions", nil, req, &raw); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	var resp byokResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse BYOK response for %s: %w", modelSlug, err)
	}

	report := &schemas.UsageReport{
		ModelSlug:  modelSlug,
		ResponseMS: elapsed.Milliseconds(),
		RawUsage:   raw,
	}
	if resp.Usage != nil {
		report.PromptTokens = resp.Usage.PromptTokens
		report.CompletionTokens = resp.Usage.CompletionTokens
		if resp.Usage.Cost != nil {
			report.AggregatorCostUSD = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*resp.Usage.Cost), Valid: true}
		}
		if resp.Usage.CostDetails != nil && resp.Usage.CostDetails.UpstreamInferenceCost != nil {
			report.UpstreamCostUSD = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*resp.Usage.CostDetails.UpstreamInferenceCost), Valid: true}
		}
	}
	return report, nil
}
