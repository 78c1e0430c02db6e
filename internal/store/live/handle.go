// Package live provides a debounced, auto-flushing map view over a store
// row. Rapid mutation bursts coalesce into a single write once the handle
// has been quiet for the debounce interval.
package live

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// DefaultInterval is the quiet period after which a dirty handle flushes.
const DefaultInterval = 100 * time.Millisecond

// SaveFunc persists the full current state. The handle calls it with a
// snapshot, never the live map.
type SaveFunc func(state map[string]any) error

// Handle is a mutable mapping mirroring one store row. Every mutation
// schedules a flush of the entire current state: immediately when the last
// flush is at least the debounce interval in the past, otherwise via a
// single coalesced timer. Safe for concurrent use.
type Handle struct {
	mu        sync.Mutex
	state     map[string]any
	save      SaveFunc
	interval  time.Duration
	lastFlush time.Time
	timer     *time.Timer
	pending   bool
	closed    bool
}

// Option configures a Handle.
type Option func(*Handle)

// WithInterval overrides the debounce interval.
func WithInterval(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.interval = d
		}
	}
}

// NewHandle wraps initial (which may be nil) with save. The initial state
// is considered clean; nothing is written until the first mutation.
func NewHandle(initial map[string]any, save SaveFunc, opts ...Option) *Handle {
	h := &Handle{
		state:    make(map[string]any),
		save:     save,
		interval: DefaultInterval,
	}
	maps.Copy(h.state, initial)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get returns the value for key.
func (h *Handle) Get(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.state[key]
	return v, ok
}

// Set stores key=value and schedules a flush.
func (h *Handle) Set(key string, value any) {
	h.mu.Lock()
	h.state[key] = value
	h.scheduleLocked()
	h.mu.Unlock()
}

// Delete removes key and schedules a flush.
func (h *Handle) Delete(key string) {
	h.mu.Lock()
	delete(h.state, key)
	h.scheduleLocked()
	h.mu.Unlock()
}

// Update merges every entry of kv and schedules one flush.
func (h *Handle) Update(kv map[string]any) {
	h.mu.Lock()
	maps.Copy(h.state, kv)
	h.scheduleLocked()
	h.mu.Unlock()
}

// Pop removes and returns the value for key.
func (h *Handle) Pop(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.state[key]
	if ok {
		delete(h.state, key)
		h.scheduleLocked()
	}
	return v, ok
}

// SetDefault stores value only when key is absent, returning the effective
// value.
func (h *Handle) SetDefault(key string, value any) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.state[key]; ok {
		return v
	}
	h.state[key] = value
	h.scheduleLocked()
	return value
}

// Clear empties the state and schedules a flush.
func (h *Handle) Clear() {
	h.mu.Lock()
	h.state = make(map[string]any)
	h.scheduleLocked()
	h.mu.Unlock()
}

// Append treats the value at key as a list and appends items to it.
func (h *Handle) Append(key string, items ...any) {
	h.mu.Lock()
	list, _ := h.state[key].([]any)
	list = append(list, items...)
	h.state[key] = list
	h.scheduleLocked()
	h.mu.Unlock()
}

// Snapshot returns a shallow copy of the current state.
func (h *Handle) Snapshot() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() map[string]any {
	cp := make(map[string]any, len(h.state))
	maps.Copy(cp, h.state)
	return cp
}

// scheduleLocked flushes now when the debounce interval has elapsed since
// the last flush, otherwise arms a single coalesced timer. Caller holds mu.
func (h *Handle) scheduleLocked() {
	if h.closed {
		return
	}
	if time.Since(h.lastFlush) >= h.interval {
		h.flushLocked()
		return
	}
	if h.pending {
		return
	}
	h.pending = true
	h.timer = time.AfterFunc(h.interval, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.pending = false
		if h.closed {
			return
		}
		h.flushLocked()
	})
}

// flushLocked writes the current state through the save callback. Caller
// holds mu; the snapshot keeps the callback from observing later mutations.
func (h *Handle) flushLocked() {
	h.lastFlush = time.Now()
	if err := h.save(h.snapshotLocked()); err != nil {
		slog.Error("live handle flush failed", "error", err)
	}
}

// ForceFlush cancels any pending timer and writes synchronously.
func (h *Handle) ForceFlush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.pending = false
	}
	h.lastFlush = time.Now()
	return h.save(h.snapshotLocked())
}

// Close force-flushes and detaches the handle; further mutations are kept
// in memory but never written.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
		h.pending = false
	}
	h.lastFlush = time.Now()
	snap := h.snapshotLocked()
	save := h.save
	h.mu.Unlock()
	return save(snap)
}
