// Package ratelimit gates outgoing message writes. Two variants: a per-user
// single-slot debounce for regular conversations and a sliding window for
// the support channel.
package ratelimit

import (
	"sync"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/clock"
)

// DefaultSendThreshold is the minimum gap between accepted sends per user.
const DefaultSendThreshold = 2 * time.Second

// Debounce accepts at most one send per threshold interval per key. Rejected
// sends are not queued: the caller must resubmit. A rejection raises a
// cooldown flag that clears once the threshold elapses from the rejected
// attempt.
type Debounce struct {
	mu        sync.Mutex
	clk       clock.Clock
	threshold time.Duration
	last      map[string]time.Time
	coolUntil map[string]time.Time
}

func NewDebounce(clk clock.Clock, threshold time.Duration) *Debounce {
	if threshold <= 0 {
		threshold = DefaultSendThreshold
	}
	return &Debounce{
		clk:       clk,
		threshold: threshold,
		last:      make(map[string]time.Time),
		coolUntil: make(map[string]time.Time),
	}
}

// TrySend reports whether the send is accepted and, if so, records it.
func (d *Debounce) TrySend(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clk.Now()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.threshold {
		d.coolUntil[key] = now.Add(d.threshold)
		return false
	}
	d.last[key] = now
	delete(d.coolUntil, key)
	return true
}

// InCooldown reports whether the key has a raised cooldown flag. The flag
// auto-clears by time comparison; no timer is kept.
func (d *Debounce) InCooldown(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.coolUntil[key]
	if !ok {
		return false
	}
	if !d.clk.Now().Before(until) {
		delete(d.coolUntil, key)
		return false
	}
	return true
}

// Window is a true sliding-window limiter: at most max sends per rolling
// window per key. Once exhausted, all sends are blocked until the oldest
// counted send ages out.
type Window struct {
	mu     sync.Mutex
	clk    clock.Clock
	max    int
	window time.Duration
	times  map[string][]time.Time
}

func NewWindow(clk clock.Clock, max int, window time.Duration) *Window {
	return &Window{clk: clk, max: max, window: window, times: make(map[string][]time.Time)}
}

// Allow reports whether a send is within the window and, if so, counts it.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clk.Now()
	slice := w.prune(key, now)
	if len(slice) >= w.max {
		return false
	}
	w.times[key] = append(slice, now)
	return true
}

// RetryAfter returns how long until the next send could be accepted.
// Zero means a send would be accepted now.
func (w *Window) RetryAfter(key string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clk.Now()
	slice := w.prune(key, now)
	if len(slice) < w.max {
		return 0
	}
	return slice[0].Add(w.window).Sub(now)
}

// prune drops entries older than the window. Caller holds the lock.
func (w *Window) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	slice := w.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	w.times[key] = slice
	return slice
}
