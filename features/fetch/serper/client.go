// Package serper implements tools.Searcher on the Serper Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

const (
	// DefaultEndpoint is the Serper search URL.
	DefaultEndpoint = "https://google.serper.dev/search"
	// DefaultResults is the number of organic results returned per query.
	DefaultResults = 5

	serviceName = "serper"
)

type (
	// Option configures the client.
	Option func(*Client)

	// Client runs searches against Serper.
	Client struct {
		apiKey   string
		endpoint string
		results  int
		http     *http.Client
		limiter  *rate.Limiter
	}

	searchRequest struct {
		Q   string `json:"q"`
		Num int    `json:"num,omitempty"`
	}

	searchResponse struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
		Message string `json:"message"`
	}
)

var _ tools.Searcher = (*Client)(nil)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithEndpoint overrides the search URL.
func WithEndpoint(u string) Option {
	return func(cl *Client) {
		cl.endpoint = u
	}
}

// WithResults sets the number of results requested per query.
func WithResults(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.results = n
		}
	}
}

// WithRatePerMinute caps outbound queries. Zero or negative disables the
// limit.
func WithRatePerMinute(n int) Option {
	return func(cl *Client) {
		if n <= 0 {
			cl.limiter = nil
			return
		}
		cl.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), max(1, n/10))
	}
}

// New returns a client authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("serper api key is required")
	}
	cl := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		results:  DefaultResults,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(1), 5),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl, nil
}

// Search returns the organic results for query.
func (c *Client) Search(ctx context.Context, query string) ([]tools.SearchResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(searchRequest{Q: query, Num: c.results})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, tools.Upstream(serviceName, "search", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tools.Upstream(serviceName, "search", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out searchResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, tools.Upstream(serviceName, "search", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return nil, tools.Upstream(serviceName, "search", fmt.Errorf("decode response: %w", decodeErr))
	}
	results := make([]tools.SearchResult, 0, min(len(out.Organic), c.results))
	for _, o := range out.Organic {
		if len(results) == c.results {
			break
		}
		results = append(results, tools.SearchResult{Title: o.Title, Link: o.Link, Snippet: o.Snippet})
	}
	return results, nil
}
