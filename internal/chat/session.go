// Package chat ties the synchronization engine together. A Session owns the
// connection, the presence cache, the open conversation, the unread
// notifications and the typing indicators of one local user, and feeds
// inbound frames to them through a Dispatcher.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pelusa-v/chatsync/internal/api"
	"github.com/pelusa-v/chatsync/internal/config"
	"github.com/pelusa-v/chatsync/internal/conversation"
	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/notify"
	"github.com/pelusa-v/chatsync/internal/presence"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/timers"
	"github.com/pelusa-v/chatsync/internal/transport"
	"github.com/pelusa-v/chatsync/internal/typing"
)

// Collaborator is the HTTP side of the server.
type Collaborator interface {
	conversation.Fetcher
	FetchUsers(ctx context.Context) ([]models.Peer, error)
	FetchOnlineUsers(ctx context.Context) ([]models.UserRef, error)
}

// Deps are the injectable edges of a Session. Zero values select the real
// implementations.
type Deps struct {
	Dialer   transport.Dialer
	API      Collaborator
	Clock    timers.Clock
	Viewport conversation.Viewport
}

// Session is the single controller of one connected user.
type Session struct {
	id       models.Identity
	corr     string
	cfg      config.ClientConfig
	api      Collaborator
	render   Renderer
	conn     *transport.Manager
	presence *presence.Cache
	conv     *conversation.Store
	notify   *notify.Aggregator
	typing   *typing.Controller
	dispatch *Dispatcher
}

// New builds a Session from client configuration.
func New(cfg config.ClientConfig, r Renderer, deps Deps) (*Session, error) {
	wsURL, err := WebSocketURL(cfg.ServerURL, cfg.WSPath)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = NopRenderer{}
	}
	if deps.Clock == nil {
		deps.Clock = timers.Real()
	}
	if deps.API == nil {
		deps.API = api.NewClient(api.Config{
			BaseURL:       cfg.ServerURL,
			SessionToken:  cfg.SessionToken,
			Timeout:       cfg.HTTPTimeout,
			DirectoryPath: cfg.DirectoryPath,
		})
	}

	s := &Session{id: cfg.Identity(), corr: logging.NewCorrelationID(), cfg: cfg, api: deps.API, render: r}

	header := http.Header{}
	if cfg.SessionToken != "" {
		header.Set("Cookie", api.SessionCookie+"="+cfg.SessionToken)
	}
	s.conn = transport.NewManager(transport.Options{
		URL:        wsURL,
		Header:     header,
		Dialer:     deps.Dialer,
		SendBuffer: cfg.SendBuffer,
		OnState:    r.Connection,
	}, func(raw []byte) { s.dispatch.Dispatch(raw) })

	s.notify = notify.NewAggregator(r.Badge)
	s.presence = presence.NewCache(presence.Options{
		Clock:       deps.Clock,
		Debounce:    cfg.PresenceDebounce,
		ResyncDelay: cfg.SnapshotResyncDelay,
		Resync:      func() error { return s.conn.Send(protocol.GetOnlineUsers{}) },
		Render:      r.Roster,
	})
	s.conv = conversation.NewStore(conversation.Options{
		Self:     s.id.UserID,
		PageSize: cfg.PageSize,
		Fetcher:  deps.API,
		Sender:   s.conn,
		Reads:    s.notify,
		Viewport: deps.Viewport,
		Clock:    deps.Clock,
		Render:   r.Conversation,
	})
	s.typing = typing.NewController(typing.Options{
		Clock:   deps.Clock,
		Timeout: cfg.TypingTimeout,
		Rate:    cfg.TypingRate,
		Sender:  s.conn,
		Render:  r.Typing,
	})
	s.dispatch = &Dispatcher{
		self:     s.id.UserID,
		clock:    deps.Clock,
		presence: s.presence,
		conv:     s.conv,
		notify:   s.notify,
		typing:   s.typing,
	}
	return s, nil
}

// WebSocketURL derives the websocket endpoint from the HTTP server URL.
func WebSocketURL(serverURL, path string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", serverURL)
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// tag attaches the session's correlation id to ctx so the connection,
// collaborator requests and their logs can be matched up.
func (s *Session) tag(ctx context.Context) context.Context {
	if logging.CorrelationID(ctx) != "" {
		return ctx
	}
	return logging.WithCorrelationID(ctx, s.corr)
}

// CorrelationID identifies this session in logs and request headers.
func (s *Session) CorrelationID() string { return s.corr }

// Identity returns the local user.
func (s *Session) Identity() models.Identity { return s.id }

// State returns the connection state.
func (s *Session) State() transport.State { return s.conn.State() }

// Connect opens the connection and sends the handshake. It never retries.
func (s *Session) Connect(ctx context.Context) error {
	ctx = s.tag(ctx)
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}
	return s.conn.Connect(ctx, s.id)
}

// Close tears the connection down and stops every pending timer.
func (s *Session) Close() error {
	err := s.conn.Close()
	s.presence.Stop()
	s.typing.Stop()
	return err
}

// Dispatch feeds one raw frame through the dispatcher.
func (s *Session) Dispatch(raw []byte) { s.dispatch.Dispatch(raw) }

// RefreshDirectory fetches the roster and the online subset and merges
// them. When the online subset cannot be fetched every user shows offline.
func (s *Session) RefreshDirectory(ctx context.Context) error {
	ctx = s.tag(ctx)
	users, err := s.api.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	online, err := s.api.FetchOnlineUsers(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("online users unavailable, showing everyone offline")
		online = nil
	}
	s.presence.ApplySnapshot(s.dispatch.withoutSelf(online))
	s.presence.MergeDirectory(users)
	return nil
}

// OpenConversation makes peer the active conversation and loads its newest page.
func (s *Session) OpenConversation(ctx context.Context, peer models.UserID) error {
	return s.conv.Open(s.tag(ctx), peer, s.presence.Username(peer))
}

// CloseConversation drops the active conversation.
func (s *Session) CloseConversation() { s.conv.Close() }

// LoadOlder backfills the next older page of the active conversation.
func (s *Session) LoadOlder(ctx context.Context) error { return s.conv.LoadOlder(s.tag(ctx)) }

// Scroll reports the viewport's scroll position; reaching the top loads older history.
func (s *Session) Scroll(ctx context.Context, top int) error {
	return s.conv.OnScroll(s.tag(ctx), top)
}

// Send posts content to the active conversation.
func (s *Session) Send(content string) error {
	msg, err := s.conv.Send(content)
	if msg.ReceiverID != "" {
		s.presence.Touch(msg.ReceiverID, msg.Content, msg.SentAt)
	}
	return err
}

// Input reports a keystroke in the active conversation's composer.
func (s *Session) Input() error {
	peer, ok := s.conv.Active()
	if !ok {
		return conversation.ErrNoActiveSession
	}
	return s.typing.OnLocalInput(peer.UserID)
}

// Blur reports that the composer lost focus.
func (s *Session) Blur() error {
	peer, ok := s.conv.Active()
	if !ok {
		return conversation.ErrNoActiveSession
	}
	return s.typing.OnLocalBlur(peer.UserID)
}

// Conversation returns the active conversation view.
func (s *Session) Conversation() conversation.View { return s.conv.Snapshot() }

// Peers returns the cached roster.
func (s *Session) Peers() []models.Peer { return s.presence.Peers() }

// IsOnline reports whether id is in the online set.
func (s *Session) IsOnline(id models.UserID) bool { return s.presence.IsOnline(id) }

// UnreadCount is the number of senders with unread messages.
func (s *Session) UnreadCount() int { return s.notify.UnreadCount() }

// Unread lists unread notifications, newest first.
func (s *Session) Unread() []models.Notification { return s.notify.Unread() }

// Typing reports whether peer is shown as typing.
func (s *Session) Typing(peer models.UserID) bool { return s.typing.Visible(peer) }
