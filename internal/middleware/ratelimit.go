package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/persona-chat/backend/pkg/utils"
)

// Idle buckets are dropped after DefaultIdleTTL; the sweep runs at most once per sweepPeriod.
const (
	DefaultIdleTTL = 10 * time.Minute
	sweepPeriod    = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool hands out one token bucket per key.
type LimiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       float64
	burst     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewLimiterPool returns a pool; non-positive values fall back to 1 rps and a burst of 3.
func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 3
	}
	return &LimiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rps,
		burst: burst,
		ttl:   DefaultIdleTTL,
		now:   time.Now,
	}
}

// get returns the bucket of key, creating it if missing, and evicts buckets
// idle for longer than the pool's TTL.
func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= sweepPeriod {
		cutoff := now.Add(-p.ttl)
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}

	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Allow reports whether key may proceed now.
func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Forget drops the bucket of key.
func (p *LimiterPool) Forget(key string) {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}

// Len returns the number of live buckets.
func (p *LimiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimit rejects requests with 429 once the key's bucket is empty.
// Requests whose key is empty pass through.
func RateLimit(pool *LimiterPool, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := keyFn(r); key != "" && !pool.Allow(key) {
				w.Header().Set("Retry-After", "1")
				utils.RespondError(w, http.StatusTooManyRequests, "too many messages, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
