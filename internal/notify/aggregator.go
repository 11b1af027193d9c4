// Package notify aggregates unread messages per sender.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
)

// Collapse stores n as the only unread entry of its sender, replacing any
// earlier one.
func Collapse(unread map[models.UserID]models.Notification, n models.Notification) map[models.UserID]models.Notification {
	out := make(map[models.UserID]models.Notification, len(unread)+1)
	for k, v := range unread {
		out[k] = v
	}
	n.Read = false
	out[n.SenderID] = n
	return out
}

// Aggregator holds at most one unread notification per sender. The unread
// count is the number of distinct senders, not the number of messages.
type Aggregator struct {
	mu     sync.Mutex
	unread map[models.UserID]models.Notification

	// badge is called with the unread count after every change.
	badge func(count int)
}

// NewAggregator returns an empty Aggregator. badge may be nil.
func NewAggregator(badge func(count int)) *Aggregator {
	return &Aggregator{
		unread: make(map[models.UserID]models.Notification),
		badge:  badge,
	}
}

// Add records an unread message from sender, collapsing onto any existing entry.
func (a *Aggregator) Add(sender models.UserID, senderName, content string, at time.Time) {
	a.mu.Lock()
	a.unread = Collapse(a.unread, models.Notification{
		SenderID:   sender,
		SenderName: senderName,
		Message:    content,
		Timestamp:  at,
	})
	n := len(a.unread)
	a.mu.Unlock()
	a.changed(n)
}

// MarkRead drops the entry for sender. It reports whether one existed.
func (a *Aggregator) MarkRead(sender models.UserID) bool {
	a.mu.Lock()
	_, ok := a.unread[sender]
	delete(a.unread, sender)
	n := len(a.unread)
	a.mu.Unlock()
	if ok {
		a.changed(n)
	}
	return ok
}

// UnreadCount returns the number of senders with unread messages.
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.unread)
}

// Get returns the unread entry for sender.
func (a *Aggregator) Get(sender models.UserID) (models.Notification, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.unread[sender]
	return n, ok
}

// Unread lists unread entries, newest first.
func (a *Aggregator) Unread() []models.Notification {
	a.mu.Lock()
	out := make([]models.Notification, 0, len(a.unread))
	for _, n := range a.unread {
		out = append(out, n)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].SenderID < out[j].SenderID
	})
	return out
}

func (a *Aggregator) changed(n int) {
	metrics.UnreadSenders.Set(float64(n))
	if a.badge != nil {
		a.badge(n)
	}
}
