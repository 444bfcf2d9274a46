package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxRetryAfter caps how long a Retry-After header can pause a host.
const MaxRetryAfter = 5 * time.Minute

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// RequestsPerSecond is the default per-host rate. 0 disables limiting.
	RequestsPerSecond float64
	// Burst is the token bucket size.
	Burst int
	// HostRates overrides RequestsPerSecond for specific hosts.
	HostRates map[string]float64
}

// DefaultRateLimiterConfig returns a conservative rate for the Data API.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 5,
		Burst:             5,
		HostRates:         map[string]float64{},
	}
}

// RateLimiter applies a token bucket per host and honors server-requested
// pauses from Retry-After.
type RateLimiter struct {
	config   RateLimiterConfig
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	pausedTo map[string]time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
		pausedTo: make(map[string]time.Time),
	}
}

// Wait blocks until a request to host is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	rl.mu.Lock()
	until := rl.pausedTo[host]
	limiter := rl.limiter(host)
	rl.mu.Unlock()

	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Pause holds back requests to host for d, capped at MaxRetryAfter.
func (rl *RateLimiter) Pause(host string, d time.Duration) {
	if d <= 0 {
		return
	}
	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if until := time.Now().Add(d); until.After(rl.pausedTo[host]) {
		rl.pausedTo[host] = until
	}
}

// limiter returns the host's limiter or nil when unlimited. Callers hold rl.mu.
func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	if l, ok := rl.limiters[host]; ok {
		return l
	}
	rps := rl.config.RequestsPerSecond
	if r, ok := rl.config.HostRates[host]; ok {
		rps = r
	}
	if rps <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), rl.config.Burst)
	rl.limiters[host] = l
	return l
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
