package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedCallers = 100_000

// RateLimiter throttles requests per caller with one token bucket each.
// Callers with a resolved user are keyed by user, anonymous ones by
// remote IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	callers map[string]*caller
}

type caller struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per caller with bursts of
// up to burst requests.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		callers: make(map[string]*caller),
	}
}

// Handler enforces the limit. It must run after Identity for user keys to apply.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.allow(clientKey(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow takes one token for key. When none is available it reports how
// long until one is.
func (rl *RateLimiter) allow(key string) (remaining int, wait time.Duration, ok bool) {
	now := time.Now()

	rl.mu.Lock()
	c, exists := rl.callers[key]
	if !exists {
		if len(rl.callers) >= maxTrackedCallers {
			rl.mu.Unlock()
			return 0, time.Second, false
		}
		c = &caller{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	res := c.lim.ReserveN(now, 1)
	if !res.OK() {
		return 0, time.Second, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return 0, d, false
	}
	return int(c.lim.TokensAt(now)), 0, true
}

// StartCleanup forgets callers idle for longer than maxIdle, checking every
// interval. The returned function stops the sweep.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.callers {
		if c.lastSeen.Before(cutoff) {
			delete(rl.callers, key)
		}
	}
}

// Len returns the number of tracked callers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}

// clientKey prefers the resolved user over RemoteAddr. Forwarding headers
// are ignored because clients control them.
func clientKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
