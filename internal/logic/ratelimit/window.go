// Package ratelimit caps how many tracking events one actor may produce per
// fixed time window.
//
// Each (actor, event type) pair owns a Window holding a count and the instant
// the window opened. The first event after the window has elapsed opens a new
// window with a count of one; later events increment the count and are
// rejected once it passes the ceiling for their event type.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the counter for one (actor, event type) pair. Its mutex is the
// per-key lock; the limiter's map lock is only held to find or create it.
type Window struct {
	mu      sync.Mutex
	start   time.Time
	count   int
	retired bool // removed from the limiter by a sweep
}

// consume records one event at now. ok is false when the window was retired
// by a concurrent sweep and the caller must look it up again.
func (w *Window) consume(now time.Time, length time.Duration, ceiling int) (allowed, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.retired {
		return false, false
	}
	if w.start.IsZero() || now.Sub(w.start) >= length {
		w.start = now
		w.count = 1
		return true, true
	}
	w.count++
	return w.count <= ceiling, true
}

// retireIfExpired marks the window dead when it has elapsed at now.
func (w *Window) retireIfExpired(now time.Time, length time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Sub(w.start) < length {
		return false
	}
	w.retired = true
	return true
}
