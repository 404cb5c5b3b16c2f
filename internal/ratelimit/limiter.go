// Package ratelimit implements a sliding-window call budget per caller identity.
//
// State lives in process memory only and resets on restart.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the trailing window the per-minute budget applies to
const DefaultWindow = time.Minute

// Limiter admits at most limit calls per identity in any trailing window
type Limiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets sync.Map // identity -> *bucket
}

type bucket struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithWindow overrides the trailing window length
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter. A limit of zero or less disables limiting.
func New(limit int, opts ...Option) *Limiter {
	l := &Limiter{
		limit:  limit,
		window: DefaultWindow,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Limit returns the configured per-window budget
func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) bucketFor(identity string) *bucket {
	if b, ok := l.buckets.Load(identity); ok {
		return b.(*bucket)
	}

	b, _ := l.buckets.LoadOrStore(identity, &bucket{})

	return b.(*bucket)
}

// purge drops stamps at least one window old. Caller holds b.mu.
func (b *bucket) purge(now time.Time, window time.Duration) {
	keep := 0
	for _, ts := range b.stamps {
		if now.Sub(ts) < window {
			b.stamps[keep] = ts
			keep++
		}
	}

	b.stamps = b.stamps[:keep]
}

// CheckAndRecord admits the call and records it, or denies it without recording.
// A denial reports how long until the oldest stamp leaves the window.
func (l *Limiter) CheckAndRecord(identity string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	b := l.bucketFor(identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.purge(now, l.window)

	if len(b.stamps) >= l.limit {
		retryAfter := l.window - now.Sub(b.stamps[0])
		if retryAfter < 0 {
			retryAfter = 0
		}

		return false, retryAfter
	}

	b.stamps = append(b.stamps, now)

	return true, 0
}

// Remaining reports how many more calls identity may make right now, without recording one.
// It returns -1 when limiting is disabled.
func (l *Limiter) Remaining(identity string) int {
	if l.limit <= 0 {
		return -1
	}

	b := l.bucketFor(identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.purge(l.now(), l.window)

	if n := l.limit - len(b.stamps); n > 0 {
		return n
	}

	return 0
}
