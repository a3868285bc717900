package util

import (
	"sync"
	"time"
)

// LimiterRegistry hands out one Limiter per key, typically the host of a
// repository URL, so that many repositories on one forge share a budget while
// different forges do not throttle each other. Idle limiters are evicted
// lazily on Get.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     float64
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *Limiter
	lastUsed time.Time
}

// NewLimiterRegistry creates a registry whose limiters issue r tokens per
// second with burst b. A zero ttl keeps limiters forever.
func NewLimiterRegistry(r float64, b int, ttl time.Duration) *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *LimiterRegistry) Get(key string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evictIdle(now)

	entry, ok := r.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: NewLimiter(r.rate, r.burst)}
		r.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// Len returns the number of live limiters.
func (r *LimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *LimiterRegistry) evictIdle(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for key, entry := range r.limiters {
		if now.Sub(entry.lastUsed) > r.ttl {
			delete(r.limiters, key)
		}
	}
}
