package citydata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citypulse/internal/types"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newServerClient(t *testing.T, handler http.HandlerFunc, clock *testClock) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		CacheTTL: 2 * time.Minute,
		Retry:    RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
	},
		WithClock(clock),
		WithSleepFunc(func(time.Duration) {}),
	)
	return c, srv
}

func TestGetWeather_DecodesAndSendsAuth(t *testing.T) {
	var gotAuth string
	clock := &testClock{now: time.Now()}
	c, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/weather/current", r.URL.Path)
		w.Write([]byte(`{"temperature_c": 36.0, "humidity_pct": 55}`))
	}, clock)

	weather, err := c.GetWeather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 36.0, weather.TemperatureC)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestGetWeather_ServedFromCacheWithinTTL(t *testing.T) {
	var calls atomic.Int32
	clock := &testClock{now: time.Now()}
	c, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"temperature_c": 20.0}`))
	}, clock)

	_, err := c.GetWeather(context.Background())
	require.NoError(t, err)
	_, err = c.GetWeather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second call within TTL must hit the cache")

	// Advance past the TTL; the next call refetches.
	clock.now = clock.now.Add(3 * time.Minute)
	_, err = c.GetWeather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	clock := &testClock{now: time.Now()}
	c, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"pm10": 95, "pm25": 40, "grade": "bad"}`))
	}, clock)

	air, err := c.GetAirQuality(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 95.0, air.PM10)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ExhaustedRetriesMapToUpstreamError(t *testing.T) {
	clock := &testClock{now: time.Now()}
	c, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, clock)

	_, err := c.GetCityData(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamCityData, appErr.Code)
}

func TestFetch_OpenBreakerStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	clock := &testClock{now: time.Now()}
	c, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, clock)

	// Two exhausted calls (three attempts each) push the breaker past its
	// consecutive-failure threshold.
	_, err := c.GetCityData(context.Background())
	require.Error(t, err)
	_, err = c.GetCityData(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(6), calls.Load())

	// With the breaker open, the next call must fail fast: no upstream
	// requests and no retry attempts.
	_, err = c.GetCityData(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(6), calls.Load(), "open breaker must not reach upstream")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamCityData, appErr.Code)
}

func TestGetCulturalEvents_DecodesList(t *testing.T) {
	clock := &testClock{now: time.Now()}
	c, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events":[{"id":"E1","name":"Night Market","place":"Seoul Plaza","lat":37.5657,"lon":126.9769}]}`))
	}, clock)

	events, err := c.GetCulturalEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "E1", events[0].ID)
	assert.Equal(t, "Seoul Plaza", events[0].Place)
}
