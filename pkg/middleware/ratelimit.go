package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/voxnote/pkg/contextkeys"
	"github.com/platinummonkey/voxnote/pkg/httputil"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// PerMinute returns a config allowing n requests per minute with a burst of
// a tenth of n
func PerMinute(n int) *RateLimitConfig {
	burst := n / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute, BurstSize: burst}
}

// Limiter decides whether the request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Config() *RateLimitConfig
}

// RateLimiter is a per-process token bucket limiter. Idle keys are evicted
// after two windows.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets *expirable.LRU[string, *rate.Limiter]
}

const maxTrackedKeys = 100_000

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = PerMinute(100)
	}
	return &RateLimiter{
		config:  config,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxTrackedKeys, nil, 2*config.WindowDuration),
	}
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	b, ok := rl.buckets.Get(key)
	if !ok {
		every := rl.config.WindowDuration / time.Duration(max(rl.config.RequestsPerWindow, 1))
		b = rate.NewLimiter(rate.Every(every), rl.config.RequestsPerWindow+rl.config.BurstSize)
		// Two first requests for the same key may race here; the loser's
		// bucket is dropped and at most one extra request passes
		rl.buckets.Add(key, b)
	}
	return b.Allow(), nil
}

// Config implements Limiter
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// RateLimitMiddleware limits requests per authenticated user, or per client
// IP for anonymous requests
type RateLimitMiddleware struct {
	limiter Limiter
	logger  *observability.Logger
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter, logger *observability.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + getClientIP(r)
		if userID, ok := contextkeys.GetUserID(r.Context()); ok {
			key = fmt.Sprintf("user:%d", userID)
		}

		allowed, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			// Fail open: a limiter outage must not take the API down
			m.logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		cfg := m.limiter.Config()
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded", "Too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy); the first hop is the client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
