package realtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter holds a token bucket per session.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute sends per session, with a burst of the
// same size. A non-positive perMinute returns nil, which allows everything.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		idle:    10 * time.Minute,
	}
}

// Allow reports whether key may send now.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// StartEviction periodically drops buckets idle for longer than the
// eviction window, until ctx is done.
func (r *RateLimiter) StartEviction(ctx context.Context) {
	if r == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(r.idle)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evict(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *RateLimiter) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.idle {
			delete(r.buckets, key)
		}
	}
}
