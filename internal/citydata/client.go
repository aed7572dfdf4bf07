// Package citydata is the anti-corruption layer between the trigger engine
// and the public open-data APIs (weather, air quality, cultural events,
// realtime city infrastructure). All upstream HTTP concerns live here:
// circuit breaking, bounded retry with backoff, response caching, and error
// mapping. The engine only sees deserialized snapshot values through the
// types.SnapshotProvider interface.
package citydata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"citypulse/internal/types"
)

// Compile-time assertion that Client implements types.SnapshotProvider.
var _ types.SnapshotProvider = (*Client)(nil)

// RetryPolicy configures the retry behavior for upstream calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns sensible defaults for the open-data APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    300 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// ClientConfig holds the upstream endpoint and tuning parameters.
type ClientConfig struct {
	BaseURL   string
	APIKey    types.SecretString
	UserAgent string
	// CacheTTL bounds how long a fetched feed is served from cache.
	// The feeds refresh upstream every few minutes; re-fetching more
	// often than the TTL only burns the API quota.
	CacheTTL time.Duration
	Retry    RetryPolicy
}

// Client fetches and caches the public-data feeds.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	cache   *feedCache
	clock   types.Clock
	sleepFn func(time.Duration) // for testability; defaults to time.Sleep
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithClock overrides the cache clock. Intended for tests.
func WithClock(clock types.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
		c.cache.clock = clock
	}
}

// WithSleepFunc overrides the sleep between retries. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) ClientOption {
	return func(c *Client) { c.sleepFn = fn }
}

// NewClient creates a city-data client with a circuit breaker tripping
// after five consecutive upstream failures.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.MinWait == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "citydata",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	clock := types.Clock(types.RealClock{})
	c := &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: cb,
		cache:   newFeedCache(clock, cfg.CacheTTL),
		clock:   clock,
		sleepFn: time.Sleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetWeather returns the current weather readings.
func (c *Client) GetWeather(ctx context.Context) (*types.WeatherSnapshot, error) {
	var out types.WeatherSnapshot
	if err := c.getJSON(ctx, "weather", "/v1/weather/current", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAirQuality returns the current particulate readings.
func (c *Client) GetAirQuality(ctx context.Context) (*types.AirQualitySnapshot, error) {
	var out types.AirQualitySnapshot
	if err := c.getJSON(ctx, "air", "/v1/air/current", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCulturalEvents returns the scheduled public events.
func (c *Client) GetCulturalEvents(ctx context.Context) ([]types.CulturalEvent, error) {
	var out struct {
		Events []types.CulturalEvent `json:"events"`
	}
	if err := c.getJSON(ctx, "events", "/v1/culture/events", &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// GetCityData returns the realtime infrastructure feeds (bike stations,
// congestion, emergencies).
func (c *Client) GetCityData(ctx context.Context) (*types.CityDataSnapshot, error) {
	var out types.CityDataSnapshot
	if err := c.getJSON(ctx, "city", "/v1/city/realtime", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON serves the feed from cache when fresh, otherwise fetches it with
// retry and circuit breaking and decodes the body into dest.
func (c *Client) getJSON(ctx context.Context, feed, path string, dest any) error {
	if body, ok := c.cache.get(feed); ok {
		return json.Unmarshal(body, dest)
	}

	body, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}

	c.cache.put(feed, body)
	return json.Unmarshal(body, dest)
}

// fetch executes the GET with retry on 429/5xx and the circuit breaker
// wrapping every attempt. Exhausted retries and an open breaker both map
// to upstream_citydata_unavailable.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	url := c.cfg.BaseURL + path

	var lastErr error
	maxAttempts := 1 + c.cfg.Retry.MaxRetries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "building citydata request", err)
		}
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		if key := c.cfg.APIKey.Unmask(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count as failures for the breaker.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				r.Body.Close()
				return nil, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, types.NewAppError(
					types.ErrCodeUpstreamCityData,
					fmt.Sprintf("citydata %s returned %d", path, resp.StatusCode),
					nil,
				)
			}
			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamCityData, "reading citydata response", readErr)
			}
			return body, nil
		}

		lastErr = err

		// An open breaker will not recover within this call; stop retrying.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < maxAttempts-1 {
			c.sleepFn(c.backoff(attempt))
		}
	}

	return nil, types.NewAppError(
		types.ErrCodeUpstreamCityData,
		fmt.Sprintf("citydata %s unavailable", path),
		lastErr,
	)
}

// backoff computes exponential backoff with full jitter clamped to
// [0, min(MaxWait, MinWait * 2^attempt)].
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.cfg.Retry.MinWait) * math.Pow(2, float64(attempt))
	maxWait := float64(c.cfg.Retry.MaxWait)
	if base > maxWait {
		base = maxWait
	}
	return time.Duration(rand.Float64() * base)
}
