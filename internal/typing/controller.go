// Package typing drives the ephemeral "is typing" indicator.
package typing

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/timers"
)

// DefaultTimeout hides a remote indicator when no further typing_start arrives.
const DefaultTimeout = 1500 * time.Millisecond

// Sender queues outbound frames.
type Sender interface {
	Send(protocol.Outbound) error
}

// Indicator is one peer's rendered typing state.
type Indicator struct {
	PeerID   models.UserID
	Username string
	Visible  bool
}

// Options configures a Controller.
type Options struct {
	Clock   timers.Clock
	Timeout time.Duration
	// Rate caps outbound typing_start frames per second. Zero sends one
	// per input event.
	Rate   float64
	Sender Sender
	Render func(Indicator)
}

// Controller tracks which peers are typing to the local user and emits the
// local user's own typing frames.
type Controller struct {
	clock   timers.Clock
	timeout time.Duration
	limiter *rate.Limiter
	sender  Sender
	render  func(Indicator)
	hide    *timers.Keyed

	mu      sync.Mutex
	seq     uint64
	visible map[models.UserID]shown
}

// shown is a visible indicator; seq identifies the typing_start that showed it.
type shown struct {
	username string
	seq      uint64
}

// NewController returns a Controller with no visible indicators.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = timers.Real()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Controller{
		clock:   opts.Clock,
		timeout: opts.Timeout,
		sender:  opts.Sender,
		render:  opts.Render,
		hide:    timers.NewKeyed(opts.Clock),
		visible: make(map[models.UserID]shown),
	}
	if opts.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return c
}

// OnLocalInput emits typing_start to peer. Without a rate every call sends.
func (c *Controller) OnLocalInput(peer models.UserID) error {
	if c.limiter != nil && !c.limiter.AllowN(c.clock.Now(), 1) {
		return nil
	}
	return c.send(protocol.StartTyping{ReceiverID: peer})
}

// OnLocalBlur emits typing_stop to peer.
func (c *Controller) OnLocalBlur(peer models.UserID) error {
	return c.send(protocol.StopTyping{ReceiverID: peer})
}

func (c *Controller) send(f protocol.Outbound) error {
	if c.sender == nil {
		return nil
	}
	return c.sender.Send(f)
}

// OnRemoteStart shows the indicator for peer and restarts its auto-hide timer.
// A timer left over from an earlier start never hides the newer one.
func (c *Controller) OnRemoteStart(peer models.UserID, username string) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.visible[peer] = shown{username: username, seq: seq}
	c.mu.Unlock()

	c.hide.Schedule(string(peer), c.timeout, func() { c.expire(peer, seq) })
	c.emit(Indicator{PeerID: peer, Username: username, Visible: true})
}

// OnRemoteStop hides the indicator for peer immediately.
func (c *Controller) OnRemoteStop(peer models.UserID) {
	c.hide.Cancel(string(peer))
	c.expire(peer, 0)
}

// expire hides peer. A non-zero seq hides only the indicator shown by that start.
func (c *Controller) expire(peer models.UserID, seq uint64) {
	c.mu.Lock()
	cur, ok := c.visible[peer]
	if ok && seq != 0 && cur.seq != seq {
		ok = false
	}
	if ok {
		delete(c.visible, peer)
	}
	c.mu.Unlock()
	if ok {
		c.emit(Indicator{PeerID: peer, Username: cur.username})
	}
}

func (c *Controller) emit(ind Indicator) {
	if c.render != nil {
		c.render(ind)
	}
}

// Visible reports whether peer's indicator is shown.
func (c *Controller) Visible(peer models.UserID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.visible[peer]
	return ok
}

// Stop cancels every auto-hide timer and clears all indicators without rendering.
func (c *Controller) Stop() {
	c.hide.StopAll()
	c.mu.Lock()
	c.visible = make(map[models.UserID]shown)
	c.mu.Unlock()
}
