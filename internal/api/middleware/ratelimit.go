package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// tokenBucket is a refilling bucket for one client.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// RateLimiter enforces a per-client request budget using token buckets
// keyed by remote address. Buckets refill continuously; a rejected
// request carries a Retry-After hint.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	maxTokens  float64
	refillRate float64 // tokens per second

	now func() time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per client.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		buckets:    make(map[string]*tokenBucket),
		maxTokens:  float64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		now:        time.Now,
	}
}

// Allow reports whether a request from key may proceed, and when to
// retry if not.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.maxTokens, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.refillRate
	if b.tokens > l.maxTokens {
		b.tokens = l.maxTokens
	}
	b.lastRefill = now
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	wait := time.Duration((1 - b.tokens) / l.refillRate * float64(time.Second))
	return false, wait
}

// sweep drops buckets idle longer than an hour to bound memory.
func (l *RateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-time.Hour)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// clientKey identifies the calling host. The port is stripped so a
// client cannot reset its budget by reconnecting; RealIP may already
// have rewritten RemoteAddr to a bare IP.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Handler wraps next with the rate limit check.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	var sweepCount atomic.Int64
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := l.Allow(clientKey(r))
		if !ok {
			seconds := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "Rate Limit Exceeded",
				"message": fmt.Sprintf("retry after %d seconds", seconds),
			})
			return
		}

		if sweepCount.Add(1)%1000 == 0 {
			go l.sweep()
		}
		next.ServeHTTP(w, r)
	})
}
