package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting for the routing API.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second allowed per IP.
	Rate rate.Limit
	// Burst is the short-term burst budget per IP.
	Burst int
	// CleanupInterval is how often idle limiters are swept.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter survives before eviction.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns limits suited to switching engines querying
// the routing API on every call setup: 50 requests/second, burst of 100,
// per engine IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(50),
		Burst:           100,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type ipLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP and evicts idle ones in
// the background.
type IPRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipLimitEntry
	cfg     RateLimitConfig
	stopCh  chan struct{}
}

// NewIPRateLimiter creates the limiter and starts its sweep goroutine.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		entries: make(map[string]*ipLimitEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow reports whether a request from ip fits its budget.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry := rl.entries[ip]
	if entry == nil {
		entry = &ipLimitEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the sweep goroutine.
func (rl *IPRateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *IPRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *IPRateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.cfg.MaxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("rate limiter cleanup", "removed", removed, "remaining", len(rl.entries))
	}
}

// RateLimit returns middleware that limits requests by client IP. Rejected
// requests get a 429 with a Retry-After header.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if limiter.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(errorEnvelope{Error: "rate limit exceeded"}) //nolint:errcheck
		})
	}
}

// extractIP strips the port from RemoteAddr. The chi RealIP middleware runs
// earlier and rewrites RemoteAddr when the server sits behind a proxy.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
