// Package ratelimit gates generation requests with fixed-window counters.
package ratelimit

import (
	"net"
	"strings"
	"sync"
	"time"
)

// Clock provides the current time for the limiter.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the time left in the window at now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter counts hits per key.
type Limiter interface {
	Check(key string, max int, window time.Duration) Decision
}

// Noop allows every request.
var Noop Limiter = noopLimiter{}

type noopLimiter struct{}

func (noopLimiter) Check(_ string, max int, _ time.Duration) Decision {
	return Decision{Allowed: true, Remaining: max}
}

type entry struct {
	count   int
	resetAt time.Time
}

// FixedWindow counts hits in windows that reset wholesale, so up to twice
// the limit can pass around a window boundary.
type FixedWindow struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]*entry
}

// NewFixedWindow creates a FixedWindow limiter with the provided clock.
func NewFixedWindow(clock Clock) *FixedWindow {
	if clock == nil {
		clock = realClock{}
	}
	return &FixedWindow{clock: clock, entries: map[string]*entry{}}
}

// Check records a hit for key and reports whether it fits the window.
func (w *FixedWindow) Check(key string, max int, window time.Duration) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	e, ok := w.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{resetAt: now.Add(window)}
		w.entries[key] = e
	}
	if e.count >= max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}
	}
	e.count++
	return Decision{Allowed: true, Remaining: max - e.count, ResetAt: e.resetAt}
}

// Sweep drops windows that have already reset and returns how many it removed.
func (w *FixedWindow) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	removed := 0
	for key, e := range w.entries {
		if !now.Before(e.resetAt) {
			delete(w.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (w *FixedWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// KeyFor derives the limiter key from the caller's identity, falling back to
// the network address when no user is known.
func KeyFor(userID, remoteAddr string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return "user:" + id
	}
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		host = "unknown"
	}
	return "addr:" + host
}
