// Package ratelimit implements the shared fixed-window counter primitive
// of spec §4.6: Increment(identifier, windowMs, limit) ->
// {count, resetTime, limited}.
//
// This is deliberately not a continuous-refill token bucket
// (cf. ws/internal/single/limits/rate_limiter.go) — the RateState
// invariant (§3) is an explicit fixed-window reset, not a refill curve,
// so the counting algorithm here differs from that style even though
// the surrounding per-identifier registry (a mutex-guarded map) and the
// CheckLimit-style call shape are grounded on it.
package ratelimit

import (
	"sync"
	"time"
)

// Result is returned by Increment.
type Result struct {
	Count     int
	ResetTime time.Time
	Limited   bool // true when Count exceeds the caller-supplied limit
}

type window struct {
	mu       sync.Mutex
	count    int
	windowEnd time.Time
}

// Limiter tracks one fixed window per identifier, in-process only.
// Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{windows: make(map[string]*window)}
}

// Increment advances identifier's counter. On first call, or once
// windowEnd has passed, count resets to 1 and windowEnd advances by
// windowMs from now; otherwise count is incremented in place.
func (l *Limiter) Increment(identifier string, windowMs int64, limit int) Result {
	w := l.windowFor(identifier)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if w.windowEnd.IsZero() || now.After(w.windowEnd) {
		w.count = 1
		w.windowEnd = now.Add(time.Duration(windowMs) * time.Millisecond)
	} else {
		w.count++
	}

	return Result{
		Count:     w.count,
		ResetTime: w.windowEnd,
		Limited:   w.count > limit,
	}
}

func (l *Limiter) windowFor(identifier string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[identifier]
	if !ok {
		w = &window{}
		l.windows[identifier] = w
	}
	return w
}

// Remove drops an identifier's state, e.g. when its connection closes.
func (l *Limiter) Remove(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
}

// Sweep evicts identifiers whose window has been closed for longer
// than staleAfter, bounding memory for short-lived connections —
// grounded on the TTL-based stale-IP cleanup pattern in
// ws/internal/shared/limits/connection_rate_limiter.go.
func (l *Limiter) Sweep(staleAfter time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, w := range l.windows {
		w.mu.Lock()
		stale := !w.windowEnd.IsZero() && now.Sub(w.windowEnd) > staleAfter
		w.mu.Unlock()
		if stale {
			delete(l.windows, id)
		}
	}
}
