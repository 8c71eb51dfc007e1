package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiterConfig sets the per-client request budget.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

const (
	bucketIdleTTL = 5 * time.Minute
	sweepInterval = time.Minute
)

type tokenBucket struct {
	mu             sync.Mutex
	tokens         float64
	capacity       float64
	refillRate     float64 // per second
	lastRefillTime time.Time
}

func newTokenBucket(capacity, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:         capacity,
		capacity:       capacity,
		refillRate:     refillRate,
		lastRefillTime: time.Now(),
	}
}

// level returns the token count at now. Callers hold mu.
func (tb *tokenBucket) level(now time.Time) float64 {
	return min(tb.capacity, tb.tokens+now.Sub(tb.lastRefillTime).Seconds()*tb.refillRate)
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens = tb.level(now)
	tb.lastRefillTime = now
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

func (tb *tokenBucket) remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return int(tb.level(time.Now()))
}

// reset reports when the bucket will be full again.
func (tb *tokenBucket) reset() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	missing := tb.capacity - tb.level(now)
	if missing <= 0 || tb.refillRate <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / tb.refillRate * float64(time.Second)))
}

func (tb *tokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefillTime
}

// RateLimiter keeps one token bucket per client address. Buckets idle for
// longer than five minutes are dropped by a background sweep that runs
// until Stop.
type RateLimiter struct {
	config     RateLimiterConfig
	cleanupTTL time.Duration

	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:     config,
		cleanupTTL: bucketIdleTTL,
		buckets:    make(map[string]*tokenBucket),
		stop:       make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) bucket(client string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[client]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[client]; ok {
		return b
	}
	b = newTokenBucket(float64(rl.config.BurstSize), float64(rl.config.RequestsPerMinute)/60)
	rl.buckets[client] = b
	return b
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// evict drops buckets untouched for longer than cleanupTTL.
func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, b := range rl.buckets {
		if now.Sub(b.idleSince()) > rl.cleanupTTL {
			delete(rl.buckets, client)
		}
	}
}

// Stop ends the background sweep. Calling it again is a no-op.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow takes one token from client's bucket.
func (rl *RateLimiter) Allow(client string) bool {
	return rl.bucket(client).allow()
}

// Remaining reports the whole tokens left for client.
func (rl *RateLimiter) Remaining(client string) int {
	return rl.bucket(client).remaining()
}

// Reset reports when client's bucket is full again.
func (rl *RateLimiter) Reset(client string) time.Time {
	return rl.bucket(client).reset()
}

// Middleware rejects requests over budget with 429 and sets the
// X-RateLimit-* headers on every response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(rl.config.RequestsPerMinute)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := rl.bucket(getClientIP(r))
		reset := b.reset()

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(b.remaining()))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !b.allow() {
			wait := int(time.Until(reset).Seconds()) + 1
			h.Set("Retry-After", strconv.Itoa(wait))
			respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Too many requests, retry in "+strconv.Itoa(wait)+"s")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP picks the client address from X-Forwarded-For (leftmost
// entry), then X-Real-IP, then RemoteAddr. Values that do not parse as an
// address are skipped; "unknown" is returned when nothing parses.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return "unknown"
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
