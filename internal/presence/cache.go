// Package presence keeps the locally cached view of who is online.
//
// Snapshots replace the online set wholesale. Individual status events are
// debounced per user: a newer event for the same user inside the window
// replaces the pending one, so at most one mutation per user per window
// reaches the cache. Each applied event schedules a snapshot re-request to
// bound staleness.
package presence

import (
	"sync"
	"time"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/timers"
)

const (
	DefaultDebounce    = 100 * time.Millisecond
	DefaultResyncDelay = 300 * time.Millisecond

	resyncKey = "snapshot"
)

// Options configures a Cache.
type Options struct {
	Clock       timers.Clock
	Debounce    time.Duration
	ResyncDelay time.Duration
	// Resync asks the server for a fresh online snapshot. Nil disables
	// the reconciliation loop.
	Resync func() error
	// Render receives the sorted roster after every change.
	Render func([]models.Peer)
}

// Cache owns the peer roster. Other components only read usernames from it.
type Cache struct {
	debounce    time.Duration
	resyncDelay time.Duration
	resync      func() error
	render      func([]models.Peer)

	events  *timers.Keyed
	resyncs *timers.Keyed

	mu      sync.RWMutex
	state   State
	version uint64

	// renders are serialized; a roster older than the last one shown is skipped
	renderMu sync.Mutex
	rendered uint64
}

// NewCache returns an empty Cache.
func NewCache(opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = timers.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.ResyncDelay <= 0 {
		opts.ResyncDelay = DefaultResyncDelay
	}
	return &Cache{
		debounce:    opts.Debounce,
		resyncDelay: opts.ResyncDelay,
		resync:      opts.Resync,
		render:      opts.Render,
		events:      timers.NewKeyed(opts.Clock),
		resyncs:     timers.NewKeyed(opts.Clock),
		state:       NewState(),
	}
}

// ApplySnapshot replaces the known-online subset.
func (c *Cache) ApplySnapshot(users []models.UserRef) {
	c.update(func(s State) State { return ApplySnapshot(s, users) })
	logging.Debug().Int("online", len(users)).Msg("presence snapshot applied")
}

// ApplyEvent schedules ev behind the per-user debounce timer.
func (c *Cache) ApplyEvent(ev models.PresenceEvent) {
	if ev.UserID == "" {
		return
	}
	replaced := c.events.Schedule(string(ev.UserID), c.debounce, func() { c.commit(ev) })
	if replaced {
		metrics.PresenceEventsCoalesced.Inc()
	}
}

func (c *Cache) commit(ev models.PresenceEvent) {
	c.update(func(s State) State { return ApplyEvent(s, ev) })
	metrics.PresenceMutations.Inc()
	logging.Debug().
		Str("user_id", ev.UserID.String()).
		Str("status", string(ev.Status)).
		Msg("presence event applied")

	if c.resync == nil {
		return
	}
	c.resyncs.Schedule(resyncKey, c.resyncDelay, func() {
		if err := c.resync(); err != nil {
			logging.Debug().Err(err).Msg("presence snapshot re-request not sent")
		}
	})
}

// MergeDirectory folds a full roster fetch into the cache.
func (c *Cache) MergeDirectory(dir []models.Peer) {
	c.update(func(s State) State { return MergeDirectory(s, dir) })
}

// Touch records the last message exchanged with id.
func (c *Cache) Touch(id models.UserID, content string, at models.Timestamp) {
	c.mu.Lock()
	next, changed := Touch(c.state, id, content, at)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.version++
	v, peers := c.version, Sorted(next)
	c.mu.Unlock()
	c.emit(v, peers)
}

func (c *Cache) update(fn func(State) State) {
	c.mu.Lock()
	c.state = fn(c.state)
	c.version++
	v, peers := c.version, Sorted(c.state)
	c.mu.Unlock()
	c.emit(v, peers)
}

func (c *Cache) emit(version uint64, peers []models.Peer) {
	if c.render == nil {
		return
	}
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if version <= c.rendered {
		return
	}
	c.rendered = version
	c.render(peers)
}

// Peer returns the cached entry for id.
func (c *Cache) Peer(id models.UserID) (models.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.state.Peers[id]
	return p, ok
}

// Username returns the cached username for id, or "" when unknown.
func (c *Cache) Username(id models.UserID) string {
	p, _ := c.Peer(id)
	return p.Username
}

// IsOnline reports whether id is in the online set.
func (c *Cache) IsOnline(id models.UserID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.state.Online[id]
	return ok
}

// Peers returns the roster sorted by last message then username.
func (c *Cache) Peers() []models.Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Sorted(c.state)
}

// PendingEvent reports whether an event for id is waiting out its debounce window.
func (c *Cache) PendingEvent(id models.UserID) bool {
	return c.events.Pending(string(id))
}

// ResyncPending reports whether a snapshot re-request is scheduled.
func (c *Cache) ResyncPending() bool {
	return c.resyncs.Pending(resyncKey)
}

// Stop cancels pending debounce and resync timers.
func (c *Cache) Stop() {
	c.events.StopAll()
	c.resyncs.StopAll()
}
