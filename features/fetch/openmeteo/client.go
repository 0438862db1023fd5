// Package openmeteo implements tools.Geocoder and tools.Forecaster on the
// Open-Meteo geocoding and forecast APIs. Neither API requires a key.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

const (
	// DefaultGeocodingURL is the Open-Meteo place search endpoint.
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	// DefaultForecastURL is the Open-Meteo daily forecast endpoint.
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	serviceName = "open-meteo"
	dateLayout  = "2006-01-02"
)

type (
	// Option configures the client.
	Option func(*Client)

	// Client talks to Open-Meteo over HTTP.
	Client struct {
		geoURL      string
		forecastURL string
		http        *http.Client
	}

	geocodeResponse struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}

	forecastResponse struct {
		Daily struct {
			Time        []string  `json:"time"`
			MaxTemp     []float64 `json:"temperature_2m_max"`
			MinTemp     []float64 `json:"temperature_2m_min"`
			WeatherCode []int     `json:"weathercode"`
		} `json:"daily"`
		Error  bool   `json:"error"`
		Reason string `json:"reason"`
	}
)

var (
	_ tools.Geocoder   = (*Client)(nil)
	_ tools.Forecaster = (*Client)(nil)
)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithEndpoints overrides the geocoding and forecast URLs. Empty values keep
// the defaults.
func WithEndpoints(geocoding, forecast string) Option {
	return func(cl *Client) {
		if geocoding != "" {
			cl.geoURL = geocoding
		}
		if forecast != "" {
			cl.forecastURL = forecast
		}
	}
}

// New returns a client using the public Open-Meteo endpoints.
func New(opts ...Option) *Client {
	cl := &Client{
		geoURL:      DefaultGeocodingURL,
		forecastURL: DefaultForecastURL,
		http:        &http.Client{Timeout: 8 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 8 * time.Second}
	}
	return cl
}

// Geocode returns the first match for place. Places written as
// "City, Country" are retried with the city alone since the search endpoint
// matches names only.
func (c *Client) Geocode(ctx context.Context, place string) (tools.Coordinates, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return tools.Coordinates{}, tools.ErrNotFound
	}
	candidates := []string{place}
	if city, _, ok := strings.Cut(place, ","); ok && strings.TrimSpace(city) != "" {
		candidates = append(candidates, strings.TrimSpace(city))
	}
	for _, name := range candidates {
		q := url.Values{"name": {name}, "count": {"1"}, "language": {"en"}, "format": {"json"}}
		var resp geocodeResponse
		if err := c.get(ctx, c.geoURL, q, &resp); err != nil {
			return tools.Coordinates{}, tools.Upstream(serviceName, "geocode", err)
		}
		if len(resp.Results) == 0 {
			continue
		}
		r := resp.Results[0]
		return tools.Coordinates{Name: r.Name, Country: r.Country, Latitude: r.Latitude, Longitude: r.Longitude}, nil
	}
	return tools.Coordinates{}, fmt.Errorf("geocode %q: %w", place, tools.ErrNotFound)
}

// Forecast returns the daily forecast between start and end inclusive.
func (c *Client) Forecast(ctx context.Context, lat, lon float64, start, end time.Time) ([]tools.DailyForecast, error) {
	q := url.Values{
		"latitude":   {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude":  {strconv.FormatFloat(lon, 'f', 4, 64)},
		"daily":      {"temperature_2m_max,temperature_2m_min,weathercode"},
		"start_date": {start.Format(dateLayout)},
		"end_date":   {end.Format(dateLayout)},
		"timezone":   {"auto"},
	}
	var resp forecastResponse
	if err := c.get(ctx, c.forecastURL, q, &resp); err != nil {
		return nil, tools.Upstream(serviceName, "forecast", err)
	}
	if resp.Error {
		return nil, tools.Upstream(serviceName, "forecast", fmt.Errorf("%s", resp.Reason))
	}
	d := resp.Daily
	n := min(len(d.Time), len(d.MaxTemp), len(d.MinTemp), len(d.WeatherCode))
	days := make([]tools.DailyForecast, 0, n)
	for i := range n {
		date, err := time.Parse(dateLayout, d.Time[i])
		if err != nil {
			return nil, tools.Upstream(serviceName, "forecast", fmt.Errorf("parse date %q: %w", d.Time[i], err))
		}
		days = append(days, tools.DailyForecast{Date: date, MaxTemp: d.MaxTemp[i], MinTemp: d.MinTemp[i], Code: d.WeatherCode[i]})
	}
	return days, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	// Open-Meteo reports invalid parameters as 400 with {"error": true, "reason": ...}.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest {
		if fr, ok := out.(*forecastResponse); ok && fr.Error {
			return fmt.Errorf("%s", fr.Reason)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
