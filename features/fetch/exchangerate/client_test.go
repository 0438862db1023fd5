package exchangerate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripcrew/tripcrew/runtime/planner/tools"
)

func newRatesServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/USD":
			_, _ = w.Write([]byte(`{"result": "success", "base_code": "USD", "rates": {"USD": 1, "LKR": 300.5, "EUR": 0.92}}`))
		case "/XYZ":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"result": "error", "error-type": "unsupported-code"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`oops`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRate(t *testing.T) {
	var hits atomic.Int32
	srv := newRatesServer(t, &hits)
	c := New(WithBaseURL(srv.URL + "/"))
	ctx := context.Background()

	rate, err := c.Rate(ctx, "usd", "LKR")
	require.NoError(t, err)
	require.InDelta(t, 300.5, rate, 1e-9)

	rate, err = c.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	require.InDelta(t, 0.92, rate, 1e-9)
	require.Equal(t, int32(1), hits.Load(), "second lookup served from cache")

	rate, err = c.Rate(ctx, "LKR", "lkr")
	require.NoError(t, err)
	require.Equal(t, 1.0, rate)

	_, err = c.Rate(ctx, "USD", "ABC")
	require.ErrorIs(t, err, tools.ErrRateUnavailable)

	_, err = c.Rate(ctx, "XYZ", "USD")
	require.ErrorIs(t, err, tools.ErrRateUnavailable)

	_, err = c.Rate(ctx, "EUR", "USD")
	require.ErrorIs(t, err, tools.ErrUpstreamFetch)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (map[string]float64, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, map[string]float64, time.Duration) error {
	return errors.New("connection refused")
}

type logEntry struct {
	msg     string
	keyvals []any
}

type recordingLogger struct {
	mu   sync.Mutex
	warn []logEntry
}

func (*recordingLogger) Debug(context.Context, string, ...any) {}
func (*recordingLogger) Info(context.Context, string, ...any)  {}
func (*recordingLogger) Error(context.Context, string, ...any) {}

func (l *recordingLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warn = append(l.warn, logEntry{msg: msg, keyvals: keyvals})
}

func TestCacheFailuresAreLogged(t *testing.T) {
	var hits atomic.Int32
	srv := newRatesServer(t, &hits)
	logger := &recordingLogger{}
	c := New(WithBaseURL(srv.URL+"/"), WithCache(brokenCache{}), WithLogger(logger))

	rate, err := c.Rate(context.Background(), "USD", "LKR")
	require.NoError(t, err)
	require.InDelta(t, 300.5, rate, 1e-9)

	require.Len(t, logger.warn, 2)
	require.Equal(t, "rate cache read failed", logger.warn[0].msg)
	require.Equal(t, "rate cache write failed", logger.warn[1].msg)
	require.Contains(t, logger.warn[1].keyvals, "fx:USD")
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fx:USD", map[string]float64{"LKR": 300}, time.Minute))
	rates, ok, err := c.Get(ctx, "fx:USD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 300.0, rates["LKR"])

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "fx:USD")
	require.NoError(t, err)
	require.False(t, ok)
}
