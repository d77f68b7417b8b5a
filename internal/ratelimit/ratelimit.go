// Package ratelimit provides a fixed-window request limiter keyed by an
// arbitrary string, typically the client IP or user id.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

type window struct {
	start time.Time
	count int
}

// Fixed is an in-memory fixed-window limiter: up to limit requests per key
// per window, counters reset when the window rolls over.
type Fixed struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewFixed creates a limiter allowing limit requests per key per windowLen.
func NewFixed(windowLen time.Duration, limit int) *Fixed {
	return &Fixed{
		window:  windowLen,
		limit:   limit,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow reports whether the request may proceed and counts it if so.
func (f *Fixed) Allow(key string) bool {
	if f.limit <= 0 {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	w, ok := f.windows[key]
	if !ok || now.Sub(w.start) >= f.window {
		f.windows[key] = &window{start: now, count: 1}
		f.maybeSweep(now)
		return true
	}
	if w.count >= f.limit {
		return false
	}
	w.count++
	return true
}

// maybeSweep drops expired windows once the map grows past a threshold, so
// long-running processes do not accumulate one entry per client forever.
// Caller holds the mutex.
func (f *Fixed) maybeSweep(now time.Time) {
	if len(f.windows) < 4096 {
		return
	}
	for key, w := range f.windows {
		if now.Sub(w.start) >= f.window {
			delete(f.windows, key)
		}
	}
}

var _ Limiter = (*Fixed)(nil)
