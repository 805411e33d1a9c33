package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/logging"
)

const bucketExpiry = 10 * time.Minute

// RateLimiter implements per-client token bucket rate limiting.
type RateLimiter struct {
	buckets     map[string]*tokenBucket
	bucketMutex sync.Mutex
	perMinute   int
	burst       int
	logger      logging.Logger
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// NewRateLimiter allows perMinute requests per key with bursts up to burst.
func NewRateLimiter(perMinute, burst int, logger logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.Discard()
	}
	rl := &RateLimiter{
		buckets:   make(map[string]*tokenBucket),
		perMinute: perMinute,
		burst:     burst,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Check consumes a token for key.
func (rl *RateLimiter) Check(key string) RateLimitResult {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.burst), lastRefill: now}
		rl.buckets[key] = b
	}
	b.lastAccess = now

	perSecond := float64(rl.perMinute) / 60
	b.tokens += now.Sub(b.lastRefill).Seconds() * perSecond
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(b.tokens)}
	}

	missing := 1 - b.tokens
	return RateLimitResult{
		RetryAfter: time.Duration(missing / perSecond * float64(time.Second)),
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Stats reports the limiter configuration and tracked clients.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()
	return map[string]interface{}{
		"requests_per_min": rl.perMinute,
		"burst_size":       rl.burst,
		"active_buckets":   len(rl.buckets),
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastAccess) > bucketExpiry {
			delete(rl.buckets, key)
		}
	}
}

// RateLimitMiddleware rejects clients over their limit with 429. Requests
// for the exempt paths are never limited.
func RateLimitMiddleware(limiter *RateLimiter, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exempt {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			clientIP := getClientIP(r)
			result := limiter.Check(clientIP)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.perMinute))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))

			if !result.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", result.RetryAfter.Seconds()+0.5))
				limiter.logger.Warn(r.Context(),
					errors.NewValidationError("RATE_LIMIT_EXCEEDED", "rate limit exceeded"),
					"Rate limit exceeded",
					"client_ip", clientIP,
					"path", r.URL.Path)
				writeJSONError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMIT_EXCEEDED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
