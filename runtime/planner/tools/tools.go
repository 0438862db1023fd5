// Package tools defines the external capabilities stage agents may call:
// human input, geocoding, weather forecasts, exchange rates and web search.
// Backends live under features/fetch.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type (
	// HumanInput asks the user a question and blocks until answered.
	HumanInput interface {
		Ask(ctx context.Context, question string) (string, error)
	}

	// Coordinates is a geocoded position.
	Coordinates struct {
		Name      string
		Country   string
		Latitude  float64
		Longitude float64
	}

	// Geocoder resolves place names.
	Geocoder interface {
		Geocode(ctx context.Context, place string) (Coordinates, error)
	}

	// DailyForecast is one day of a forecast.
	DailyForecast struct {
		Date    time.Time
		MaxTemp float64
		MinTemp float64
		Code    int
	}

	// Forecaster returns daily forecasts for a position and date window.
	Forecaster interface {
		Forecast(ctx context.Context, lat, lon float64, start, end time.Time) ([]DailyForecast, error)
	}

	// Rates returns the conversion rate from one currency to another: one
	// unit of from equals rate units of to.
	Rates interface {
		Rate(ctx context.Context, from, to string) (float64, error)
	}

	// SearchResult is one web search hit.
	SearchResult struct {
		Title   string
		Link    string
		Snippet string
	}

	// Searcher runs web searches.
	Searcher interface {
		Search(ctx context.Context, query string) ([]SearchResult, error)
	}

	// UpstreamError wraps a failed call to an external service.
	UpstreamError struct {
		Service string
		Op      string
		Cause   error
	}

	// HumanInputFunc adapts a function to HumanInput.
	HumanInputFunc func(ctx context.Context, question string) (string, error)
)

var (
	// ErrUpstreamFetch matches every UpstreamError.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrNotFound indicates the upstream had no result for the query.
	ErrNotFound = errors.New("not found")
	// ErrRateUnavailable indicates no rate exists for the currency pair.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// Ask calls f.
func (f HumanInputFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Upstream wraps cause as an UpstreamError. A nil cause returns nil.
func Upstream(service, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &UpstreamError{Service: service, Op: op, Cause: cause}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrUpstreamFetch, e.Service, e.Op, e.Cause)
}

// Unwrap returns the cause.
func (e *UpstreamError) Unwrap() error { return e.Cause }

// Is matches ErrUpstreamFetch.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamFetch }
