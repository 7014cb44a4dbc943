// Package quote fetches market quotes from a Yahoo-compatible chart API.
// It backs the sandbox's get_quote capability and the /context command.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Quote is the latest observation for one symbol.
type Quote struct {
	Symbol    string
	Price     float64
	High      float64
	Low       float64
	Volume    int64
	Timestamp int64 // unix seconds
}

// Client fetches quotes over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the chart API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a quote client with a 10s request timeout by default.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chartResponse mirrors the subset of the chart API payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string  `json:"symbol"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  int64   `json:"regularMarketVolume"`
				RegularMarketTime    int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Latest returns the most recent quote for symbol.
func (c *Client) Latest(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, fmt.Errorf("quote: empty symbol")
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: building request: %w", err)
	}
	req.Header.Set("User-Agent", "luaclaw")

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: fetching %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("quote: %s: unexpected status %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("quote: reading response: %w", err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("quote: decoding response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return Quote{}, fmt.Errorf("quote: %s: %s", symbol, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("quote: no data for %s", symbol)
	}

	meta := parsed.Chart.Result[0].Meta
	return Quote{
		Symbol:    meta.Symbol,
		Price:     meta.RegularMarketPrice,
		High:      meta.RegularMarketDayHigh,
		Low:       meta.RegularMarketDayLow,
		Volume:    meta.RegularMarketVolume,
		Timestamp: meta.RegularMarketTime,
	}, nil
}
