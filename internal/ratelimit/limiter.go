package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxKeys caps the number of buckets a Limiter keeps at once.
const DefaultMaxKeys = 10000

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key. A Limiter with a
// non-positive rate allows everything.
type Limiter struct {
	mutex   sync.Mutex
	buckets map[string]*bucket
	rps     float64
	burst   int
	maxKeys int
	now     func() time.Time
}

func NewLimiter(rps float64, burst int) *Limiter {
	return NewLimiterWithMaxKeys(rps, burst, DefaultMaxKeys)
}

// NewLimiterWithMaxKeys bounds the bucket map to maxKeys entries. When a new
// key arrives at the bound, refilled buckets are dropped first, then the
// least recently used one.
func NewLimiterWithMaxKeys(rps float64, burst, maxKeys int) *Limiter {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.rps > 0
}

// Allow reports whether one more request from key fits in its bucket.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		if len(l.buckets) >= l.maxKeys {
			l.evict(now)
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// Len returns the number of keys that have a bucket.
func (l *Limiter) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.buckets)
}

// evict must be called with the mutex held. A bucket back at full burst
// behaves like a fresh one, so dropping it loses no state.
func (l *Limiter) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time

	for key, b := range l.buckets {
		if b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
			continue
		}
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = key, b.lastSeen
		}
	}

	if len(l.buckets) >= l.maxKeys && oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}
