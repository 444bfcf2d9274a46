// Package http provides the outbound HTTP client shared by the OAuth and
// YouTube Data API calls: bounded per-request timeouts, per-host rate
// limiting and a circuit breaker.
package http

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds HTTP client configuration.
type Config struct {
	// Timeout bounds each request including reading the body.
	Timeout time.Duration
	// UserAgent is set on requests that carry none.
	UserAgent string
	// RateLimiter configures per-host rate limiting.
	RateLimiter RateLimiterConfig
	// CircuitBreaker configures fail-fast behavior.
	CircuitBreaker CircuitBreakerConfig
	// Transport configures connection pooling.
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns a 30 second timeout with default limits.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		UserAgent:      "videosync/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport: TransportConfig{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Client owns the shared transport. Standard returns the *http.Client the
// rest of the module uses.
type Client struct {
	config  *Config
	base    *http.Client
	limiter *RateLimiter
	breaker *CircuitBreaker
	log     zerolog.Logger
}

// New creates a client. A nil cfg uses DefaultConfig; next, when non-nil,
// replaces the pooled transport (tests pass httptest transports here).
func New(cfg *Config, next http.RoundTripper, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if next == nil {
		next = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.Transport.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
			ForceAttemptHTTP2:   true,
		}
	}

	c := &Client{
		config:  cfg,
		limiter: NewRateLimiter(cfg.RateLimiter),
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		log:     logger.With().Str("component", "http").Logger(),
	}
	c.base = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &roundTripper{client: c, next: next},
	}
	return c
}

// Standard returns the configured *http.Client.
func (c *Client) Standard() *http.Client {
	return c.base
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}

type roundTripper struct {
	client *Client
	next   http.RoundTripper
}

// RoundTrip applies the circuit breaker and rate limiter around next.
// 5xx and 429 responses are returned to the caller but count as failures.
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c := rt.client
	host := req.URL.Hostname()

	if err := c.breaker.Allow(host); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(req.Context(), host); err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		if req.Context().Err() == nil {
			c.breaker.RecordFailure(host)
		}
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header)
		c.limiter.Pause(host, retryAfter)
		c.breaker.RecordFailure(host)
		c.log.Warn().Str("host", host).Dur("retry_after", retryAfter).Msg("Rate limited by server")
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure(host)
		c.log.Debug().Str("host", host).Int("status", resp.StatusCode).Msg("Server error")
	default:
		c.breaker.RecordSuccess(host)
	}
	return resp, nil
}
