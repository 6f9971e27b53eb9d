package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────
// Per-IP Sliding-Window Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// Each IP may make `limit` requests per `window`. Requests over the limit
// receive HTTP 429 with a retryAfterSeconds hint. Entries idle for more
// than 2× the window are evicted periodically to prevent unbounded memory
// growth from transient IPs.
// ──────────────────────────────────────────────────────────────────────

// RateLimiter holds per-IP request timestamps.
type RateLimiter struct {
	window time.Duration
	limit  int

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewRateLimiter allows `limit` requests per `window` per IP and starts the
// eviction loop.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		window: window,
		limit:  limit,
		hits:   make(map[string][]time.Time),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	recent := rl.hits[ip][:0]
	for _, t := range rl.hits[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.hits[ip] = recent
		return false
	}
	rl.hits[ip] = append(recent, now)
	return true
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP(), time.Now()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "Rate limit exceeded",
				"retryAfterSeconds": int(rl.window / time.Second),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop evicts IPs whose newest request is older than 2× the window.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * rl.window)
		rl.mu.Lock()
		for ip, times := range rl.hits {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.hits, ip)
			}
		}
		rl.mu.Unlock()
	}
}
