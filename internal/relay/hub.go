// Package relay is a small reference server for the chat wire protocol.
// It tracks who is connected, broadcasts presence changes, persists and
// delivers private messages, and relays typing frames.
package relay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/store"
)

var (
	ErrUnknownUser = errors.New("relay: unknown user")
	ErrStopped     = errors.New("relay: hub stopped")
)

type inbound struct {
	from  *Client
	frame protocol.Outbound
}

// Hub owns every registered client. Register, unregister and inbound
// frames are serialized through the Run loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client        // conn id -> client
	byUser  map[models.UserID]*Client // latest connection per user
	users   map[models.UserID]string  // directory: id -> username
	inbox   Inbox
	history store.History
	now     func() time.Time

	register   chan *Client
	unregister chan *Client
	frames     chan inbound
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub returns a hub serving the seeded directory.
func NewHub(users []models.UserRef, history store.History) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		byUser:     make(map[models.UserID]*Client),
		users:      make(map[models.UserID]string, len(users)),
		inbox:      make(Inbox),
		history:    history,
		now:        func() time.Time { return time.Now().UTC() },
		register:   make(chan *Client),
		unregister: make(chan *Client),
		frames:     make(chan inbound, 64),
		done:       make(chan struct{}),
	}
	for _, u := range users {
		h.users[u.UserID] = u.Username
	}
	return h
}

// Lookup returns the username of a directory user.
func (h *Hub) Lookup(id models.UserID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	name, ok := h.users[id]
	return name, ok
}

// Register adds c and announces it. It fails if the hub is stopped.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

// Unregister removes c. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(in inbound) bool {
	select {
	case h.frames <- in:
		return true
	case <-h.done:
		return false
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.onRegister(c)
		case c := <-h.unregister:
			h.onUnregister(c)
		case in := <-h.frames:
			h.onFrame(in)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, c := range h.clients {
			close(c.Send)
			delete(h.clients, id)
		}
		h.byUser = make(map[models.UserID]*Client)
		metrics.RelayConnections.Set(0)
	})
}

func (h *Hub) onRegister(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.byUser[c.User.UserID] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.RelayConnections.Set(float64(n))

	logging.Info().Str("conn", c.ID).Str("user_id", c.User.UserID.String()).Msg("relay client joined")
	h.broadcast(protocol.UserStatus{UserID: c.User.UserID, Username: c.User.Username, Status: models.StatusOnline}, c.User.UserID)
	h.sendTo(c, protocol.OnlineUsers{Users: h.OnlineUsers(c.User.UserID)})
}

func (h *Hub) onUnregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	close(c.Send)
	current := h.byUser[c.User.UserID] == c
	if current {
		delete(h.byUser, c.User.UserID)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.RelayConnections.Set(float64(n))

	logging.Info().Str("conn", c.ID).Str("user_id", c.User.UserID.String()).Msg("relay client left")
	if current {
		h.broadcast(protocol.UserStatus{UserID: c.User.UserID, Username: c.User.Username, Status: models.StatusOffline}, c.User.UserID)
	}
}

func (h *Hub) onFrame(in inbound) {
	c := in.from
	switch f := in.frame.(type) {
	case protocol.Identify:
		if f.UserID != c.User.UserID {
			logging.Warn().Str("conn", c.ID).Str("claimed", f.UserID.String()).Msg("identify does not match session user")
		}
	case protocol.Announce:
		logging.Debug().Str("conn", c.ID).Str("username", f.Username).Msg("presence announced")
	case protocol.GetOnlineUsers:
		h.sendTo(c, protocol.OnlineUsers{Users: h.OnlineUsers(c.User.UserID)})
	case protocol.SendMessage:
		if _, err := h.Deliver(c.User.UserID, f.ReceiverID, f.Content); err != nil {
			logging.Debug().Err(err).Str("conn", c.ID).Msg("private message rejected")
		}
	case protocol.StartTyping:
		h.sendToUser(f.ReceiverID, protocol.TypingStarted{SenderID: c.User.UserID, SenderUsername: c.User.Username})
	case protocol.StopTyping:
		h.sendToUser(f.ReceiverID, protocol.TypingStopped{SenderID: c.User.UserID})
	}
}

// Deliver stores a private message and pushes it, with both ids, to the
// receiver and back to the sender.
func (h *Hub) Deliver(from, to models.UserID, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, errors.New("relay: empty message")
	}
	if _, ok := h.Lookup(to); !ok {
		return models.Message{}, ErrUnknownUser
	}

	m, err := h.history.Append(models.Message{
		SenderID:   from,
		ReceiverID: to,
		Content:    content,
		SentAt:     models.At(h.now()),
	})
	if err != nil {
		return models.Message{}, err
	}
	metrics.RelayMessagesStored.Inc()

	h.mu.Lock()
	h.onPrivateMessage(m)
	h.mu.Unlock()

	frame := protocol.IncomingMessage{
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.SentAt,
	}
	h.sendToUser(to, frame)
	if from != to {
		h.sendToUser(from, frame)
	}
	return m, nil
}

// History returns one page of the conversation between user and peer and
// marks it read for user.
func (h *Hub) History(user, peer models.UserID, page, limit int) ([]models.Message, error) {
	msgs, err := h.history.Page(user, peer, page, limit)
	if err != nil {
		return nil, err
	}
	if page <= 1 {
		h.MarkRead(user, peer)
	}
	return msgs, nil
}

// OnlineUsers lists connected users except exclude, by username.
func (h *Hub) OnlineUsers(exclude models.UserID) []models.UserRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.UserRef, 0, len(h.byUser))
	for id, c := range h.byUser {
		if id == exclude {
			continue
		}
		out = append(out, c.User)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Directory lists every user except self with presence and the last
// message exchanged with self. With byLastMessage the most recent
// conversation comes first; otherwise users are ordered by name.
func (h *Hub) Directory(self models.UserID, byLastMessage bool) []models.Peer {
	h.mu.RLock()
	out := make([]models.Peer, 0, len(h.users))
	for id, name := range h.users {
		if id == self {
			continue
		}
		p := models.Peer{UserID: id, Username: name}
		_, p.IsOnline = h.byUser[id]
		if prev, ok := h.inbox[self][id]; ok {
			p.LastMessageContent = prev.LastBody
			p.LastMessageTimestamp = prev.LastTs
		}
		out = append(out, p)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if byLastMessage && !a.LastMessageTimestamp.Equal(b.LastMessageTimestamp.Time) {
			return a.LastMessageTimestamp.After(b.LastMessageTimestamp.Time)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.UserID < b.UserID
	})
	return out
}

func (h *Hub) broadcast(f protocol.Inbound, except models.UserID) {
	data, err := protocol.EncodeServer(f)
	if err != nil {
		logging.Error().Err(err).Msg("relay encode failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.User.UserID == except {
			continue
		}
		c.push(data)
	}
}

func (h *Hub) sendToUser(id models.UserID, f protocol.Inbound) {
	h.mu.RLock()
	c := h.byUser[id]
	h.mu.RUnlock()
	if c != nil {
		h.sendTo(c, f)
	}
}

func (h *Hub) sendTo(c *Client, f protocol.Inbound) {
	data, err := protocol.EncodeServer(f)
	if err != nil {
		logging.Error().Err(err).Msg("relay encode failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.ID]; ok {
		c.push(data)
	}
}
