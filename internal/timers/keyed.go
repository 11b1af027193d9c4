package timers

import (
	"sync"
	"time"
)

// Keyed holds at most one pending timer per key. Scheduling a key that is
// already pending replaces the earlier timer, so only the latest callback
// for a key ever runs.
type Keyed struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	pending map[string]keyedEntry
}

type keyedEntry struct {
	timer Timer
	gen   uint64
}

// NewKeyed returns a Keyed set driven by clock.
func NewKeyed(clock Clock) *Keyed {
	if clock == nil {
		clock = Real()
	}
	return &Keyed{clock: clock, pending: make(map[string]keyedEntry)}
}

// Schedule runs fn after d unless key is rescheduled or cancelled first.
// It reports whether an earlier pending timer for key was replaced.
func (k *Keyed) Schedule(key string, d time.Duration, fn func()) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	prev, replaced := k.pending[key]
	if replaced {
		prev.timer.Stop()
	}

	k.gen++
	gen := k.gen
	timer := k.clock.AfterFunc(d, func() { k.fire(key, gen, fn) })
	k.pending[key] = keyedEntry{timer: timer, gen: gen}
	return replaced
}

// fire runs fn only if the entry for key is still the one that scheduled it.
// A real timer can fire after Stop has lost the race, which the generation
// check filters out.
func (k *Keyed) fire(key string, gen uint64, fn func()) {
	k.mu.Lock()
	e, ok := k.pending[key]
	if !ok || e.gen != gen {
		k.mu.Unlock()
		return
	}
	delete(k.pending, key)
	k.mu.Unlock()

	fn()
}

// Cancel stops the pending timer for key. It reports whether one existed.
func (k *Keyed) Cancel(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(k.pending, key)
	return true
}

// Pending reports whether key has a scheduled timer.
func (k *Keyed) Pending(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.pending[key]
	return ok
}

// Len returns the number of pending keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pending)
}

// StopAll cancels every pending timer.
func (k *Keyed) StopAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.pending {
		e.timer.Stop()
		delete(k.pending, key)
	}
}
