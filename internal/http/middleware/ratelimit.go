// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter for the
// management API with per-identity buckets and opportunistic garbage
// collection of idle buckets.
//
// The limiter is process-local and is not installed on the Slack webhook:
// Slack retries rejected deliveries, so throttling them only adds load.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the authenticated user (Gin key "userID", set by
// Auth) and falls back to the client IP. Keys are prefixed so the two
// namespaces never collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s := asString(c.Value(userIDKey)); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a per-key token-bucket rate limiter. It is safe for
// concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// NewRateLimiter constructs a RateLimiter with the given tokens-per-second
// and burst size, keyed by keyFn. burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Every 5000
// lookups idle buckets are evicted; this runs before the requested bucket is
// touched so an idle one can be evicted even when it is the one requested.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler returns a Gin middleware that enforces per-key limits. Rejected
// requests get 429 with a Retry-After hint derived from the bucket.
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 1
//	{"request_id": "...", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lim := rl.getVisitor(rl.keyFn(c))

		now := rl.now()
		res := lim.ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			c.Next()
			return
		}
		retry := 1
		if res.OK() {
			retry = int(math.Ceil(res.DelayFrom(now).Seconds()))
			if retry < 1 {
				retry = 1
			}
			res.CancelAt(now)
		}

		c.Header("Retry-After", strconv.Itoa(retry))
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}
