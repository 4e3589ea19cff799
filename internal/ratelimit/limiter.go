// Package ratelimit is a fixed-window counter keyed by client, used to slow
// down password guessing on the login form.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	hits  int
	start time.Time
}

type Limiter struct {
	mu      sync.Mutex
	buckets map[string]bucket
	ops     int

	Now func() time.Time
}

func New() *Limiter {
	return &Limiter{buckets: map[string]bucket{}, Now: time.Now}
}

// Allow applies a fixed-window limit (max within window).
// Returns ok, remaining, and resetAt time.
func (l *Limiter) Allow(key string, limit int, window time.Duration) (bool, int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now().UTC()
	b := l.buckets[key]
	if b.start.IsZero() || now.Sub(b.start) >= window {
		b = bucket{start: now}
	}
	resetAt := b.start.Add(window)
	l.maybeSweepLocked(now, window)
	if b.hits >= limit {
		l.buckets[key] = b
		return false, 0, resetAt
	}
	b.hits++
	l.buckets[key] = b
	return true, limit - b.hits, resetAt
}

// Reset forgets key. Called after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// maybeSweepLocked drops expired windows every 100 calls to bound memory.
func (l *Limiter) maybeSweepLocked(now time.Time, window time.Duration) {
	l.ops++
	if l.ops%100 != 0 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.start) >= window {
			delete(l.buckets, k)
		}
	}
}
