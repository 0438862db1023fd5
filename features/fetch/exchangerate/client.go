// Package exchangerate implements tools.Rates on the open.er-api.com latest
// rates endpoint. Rate tables are cached per base currency.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/telemetry"
	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

const (
	// DefaultBaseURL is the open.er-api.com latest rates endpoint; the base
	// currency code is appended.
	DefaultBaseURL = "https://open.er-api.com/v6/latest/"
	// DefaultTTL bounds how long a rate table is reused. The upstream
	// refreshes once a day.
	DefaultTTL = time.Hour

	serviceName = "open.er-api.com"
)

type (
	// Option configures the client.
	Option func(*Client)

	// Client fetches exchange rates.
	Client struct {
		baseURL string
		http    *http.Client
		cache   Cache
		ttl     time.Duration
		logger  telemetry.Logger
	}

	latestResponse struct {
		Result    string             `json:"result"`
		ErrorType string             `json:"error-type"`
		BaseCode  string             `json:"base_code"`
		Rates     map[string]float64 `json:"rates"`
	}
)

var _ tools.Rates = (*Client)(nil)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithBaseURL overrides the endpoint. It must end with a slash.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = u
	}
}

// WithCache sets the rate table cache. The default is a MemoryCache.
func WithCache(c Cache) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithTTL sets how long cached tables are reused.
func WithTTL(d time.Duration) Option {
	return func(cl *Client) {
		cl.ttl = d
	}
}

// WithLogger sets the logger used to report cache failures.
func WithLogger(l telemetry.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New returns a client for the public endpoint.
func New(opts ...Option) *Client {
	cl := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		ttl:     DefaultTTL,
		logger:  telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.cache == nil {
		cl.cache = NewMemoryCache()
	}
	if cl.logger == nil {
		cl.logger = telemetry.NewNoopLogger()
	}
	if cl.ttl <= 0 {
		cl.ttl = DefaultTTL
	}
	return cl
}

// Rate returns how many units of to one unit of from buys.
func (c *Client) Rate(ctx context.Context, from, to string) (float64, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return 0, tools.ErrRateUnavailable
	}
	if from == to {
		return 1, nil
	}
	table, err := c.table(ctx, from)
	if err != nil {
		return 0, err
	}
	rate, ok := table[to]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%s to %s: %w", from, to, tools.ErrRateUnavailable)
	}
	return rate, nil
}

func (c *Client) table(ctx context.Context, base string) (map[string]float64, error) {
	key := "fx:" + base
	// Cache failures degrade to a live fetch.
	rates, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, "rate cache read failed", "key", key, "err", err)
	} else if ok {
		return rates, nil
	}
	rates, err = c.fetch(ctx, base)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, rates, c.ttl); err != nil {
		c.logger.Warn(ctx, "rate cache write failed", "key", key, "err", err)
	}
	return rates, nil
}

func (c *Client) fetch(ctx context.Context, base string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+base, nil)
	if err != nil {
		return nil, tools.Upstream(serviceName, "latest", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tools.Upstream(serviceName, "latest", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, tools.Upstream(serviceName, "latest", fmt.Errorf("decode response (%s): %w", resp.Status, err))
	}
	if body.Result == "error" && body.ErrorType == "unsupported-code" {
		return nil, fmt.Errorf("base %s: %w", base, tools.ErrRateUnavailable)
	}
	if resp.StatusCode != http.StatusOK || body.Result != "success" {
		return nil, tools.Upstream(serviceName, "latest", fmt.Errorf("status %s result %q %s", resp.Status, body.Result, body.ErrorType))
	}
	return body.Rates, nil
}
