package openmeteo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("name") {
		case "Mirissa":
			_, _ = w.Write([]byte(`{"results": [{"name": "Mirissa", "country": "Sri Lanka", "latitude": 5.9483, "longitude": 80.4716}]}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start_date") == "2030-01-01" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": true, "reason": "Parameter 'start_date' is out of allowed range"}`))
			return
		}
		assert.Equal(t, "temperature_2m_max,temperature_2m_min,weathercode", q.Get("daily"))
		assert.Equal(t, "auto", q.Get("timezone"))
		_, _ = w.Write([]byte(`{"daily": {
			"time": ["2025-08-05", "2025-08-06"],
			"temperature_2m_max": [30.1, 29.4],
			"temperature_2m_min": [25.0, 24.8],
			"weathercode": [1, 63]
		}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGeocodeFallsBackToCity(t *testing.T) {
	srv := newServer(t)
	c := New(WithEndpoints(srv.URL+"/search", srv.URL+"/forecast"))

	coords, err := c.Geocode(context.Background(), "Mirissa, Sri Lanka")
	require.NoError(t, err)
	require.Equal(t, "Mirissa", coords.Name)
	require.InDelta(t, 5.9483, coords.Latitude, 1e-9)

	_, err = c.Geocode(context.Background(), "Atlantis")
	require.ErrorIs(t, err, tools.ErrNotFound)
}

func TestForecast(t *testing.T) {
	srv := newServer(t)
	c := New(WithEndpoints(srv.URL+"/search", srv.URL+"/forecast"))
	start := time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC)

	days, err := c.Forecast(context.Background(), 5.9, 80.4, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, 63, days[1].Code)
	require.True(t, days[1].Date.Equal(start.AddDate(0, 0, 1)))

	report := tools.WeatherReport("Mirissa", days)
	require.Contains(t, report, "Moderate rain")

	far := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = c.Forecast(context.Background(), 5.9, 80.4, far, far)
	require.ErrorIs(t, err, tools.ErrUpstreamFetch)
	require.ErrorContains(t, err, "out of allowed range")
}

func TestUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(WithEndpoints(srv.URL, srv.URL), WithHTTPClient(srv.Client()))

	_, err := c.Geocode(context.Background(), "Mirissa")
	require.ErrorIs(t, err, tools.ErrUpstreamFetch)
}
