// Package conversation holds the message history of the one open chat.
//
// History is paged backwards from the newest message. A page load is
// single-flight per session, and every Open or Close bumps a generation so
// a fetch that resolves after the user switched peers is thrown away.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/timers"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 10

var (
	ErrNoActiveSession = errors.New("conversation: no conversation is open")
	ErrNoLocalUser     = errors.New("conversation: local user id unknown")
	ErrEmptyMessage    = errors.New("conversation: empty message")
)

// Fetcher loads one page of history with peer. Page 1 holds the newest messages.
type Fetcher interface {
	FetchHistory(ctx context.Context, peer models.UserID, page, limit int) ([]models.Message, error)
}

// Sender queues outbound frames.
type Sender interface {
	Send(protocol.Outbound) error
}

// ReadMarker clears unread state for a peer.
type ReadMarker interface {
	MarkRead(sender models.UserID) bool
}

// Viewport is the scrollable message list.
type Viewport interface {
	ScrollHeight() int
	ScrollTop() int
	SetScrollTop(int)
}

// ViewState tells the renderer what to draw in place of, or next to, the list.
type ViewState int

const (
	ViewClosed ViewState = iota
	ViewLoading
	ViewMessages
	ViewEmpty // "No messages found"
	ViewError // "Error loading messages"
)

// View is what the renderer receives.
type View struct {
	Peer     models.UserRef
	Messages []models.Message
	HasMore  bool
	Loading  bool
	State    ViewState
}

// Options configures a Store.
type Options struct {
	Self     models.UserID
	PageSize int
	Fetcher  Fetcher
	Sender   Sender
	Reads    ReadMarker
	Viewport Viewport
	Clock    timers.Clock
	Render   func(View)
}

type session struct {
	peer     models.UserRef
	page     int
	hasMore  bool
	loading  bool
	failed   bool
	loaded   bool
	messages []models.Message
}

// Store owns the active conversation. At most one is open at a time.
type Store struct {
	self     models.UserID
	pageSize int
	fetcher  Fetcher
	sender   Sender
	reads    ReadMarker
	viewport Viewport
	clock    timers.Clock
	render   func(View)

	mu     sync.Mutex
	gen    uint64
	active *session
}

// NewStore returns a Store with no open conversation.
func NewStore(opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Clock == nil {
		opts.Clock = timers.Real()
	}
	return &Store{
		self:     opts.Self,
		pageSize: opts.PageSize,
		fetcher:  opts.Fetcher,
		sender:   opts.Sender,
		reads:    opts.Reads,
		viewport: opts.Viewport,
		clock:    opts.Clock,
		render:   opts.Render,
	}
}

// Open replaces the active conversation with peer, clears its unread
// notification and loads the newest page.
func (s *Store) Open(ctx context.Context, peer models.UserID, username string) error {
	s.mu.Lock()
	s.gen++
	s.active = &session{
		peer:    models.UserRef{UserID: peer, Username: username},
		page:    1,
		hasMore: true,
	}
	v := s.active.view()
	s.mu.Unlock()

	logging.Debug().Str("peer", peer.String()).Msg("conversation opened")
	if s.reads != nil {
		s.reads.MarkRead(peer)
	}
	s.emit(v)
	return s.LoadHistory(ctx, peer, false)
}

// Close drops the active conversation and its pagination state.
func (s *Store) Close() {
	s.mu.Lock()
	s.gen++
	wasOpen := s.active != nil
	s.active = nil
	s.mu.Unlock()
	if wasOpen {
		s.emit(View{State: ViewClosed})
	}
}

// LoadHistory fetches the next page for peer. It is a no-op while another
// load for the session is in flight or when peer is not the open conversation.
// With prepend the page goes in front of what is loaded and the viewport
// keeps its anchor; otherwise the list is replaced, keeping anything appended
// while the fetch was pending, and scrolled to the end.
// A failed fetch leaves the cursor and has_more untouched.
func (s *Store) LoadHistory(ctx context.Context, peer models.UserID, prepend bool) error {
	s.mu.Lock()
	sess := s.active
	if sess == nil || sess.peer.UserID != peer || sess.loading {
		s.mu.Unlock()
		return nil
	}
	sess.loading = true
	gen, page := s.gen, sess.page
	mark := len(sess.messages)
	v := sess.view()
	s.mu.Unlock()
	s.emit(v)

	start := time.Now()
	msgs, err := s.fetcher.FetchHistory(ctx, peer, page, s.pageSize)
	metrics.HistoryFetchDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	if s.gen != gen || s.active != sess {
		s.mu.Unlock()
		metrics.HistoryResultsDiscarded.Inc()
		logging.Debug().Str("peer", peer.String()).Int("page", page).Msg("discarding history page for a closed conversation")
		return nil
	}
	sess.loading = false
	if err != nil {
		sess.failed = true
		v = sess.view()
		s.mu.Unlock()
		metrics.HistoryFetchErrors.Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("peer", peer.String()).Int("page", page).Msg("failed to load messages")
		s.emit(v)
		return fmt.Errorf("load page %d with %s: %w", page, peer, err)
	}
	sess.failed = false
	sess.loaded = true
	if prepend {
		sess.messages = Merge(sess.messages, SortPage(msgs), true)
	} else {
		// messages sent or received during the fetch stay behind the page
		arrived := sess.messages[mark:]
		sess.messages = append(Merge(nil, SortPage(msgs), false), arrived...)
	}
	sess.hasMore = HasMore(len(msgs), s.pageSize)
	if len(msgs) > 0 {
		sess.page++
	}
	v = sess.view()
	s.mu.Unlock()

	if prepend {
		s.emitAnchored(v)
	} else {
		s.emitAtBottom(v)
	}
	return nil
}

// LoadOlder is the scroll-to-top trigger: it loads the next older page
// when one may exist.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	sess := s.active
	if sess == nil || !sess.hasMore || sess.loading {
		s.mu.Unlock()
		return nil
	}
	peer := sess.peer.UserID
	s.mu.Unlock()
	return s.LoadHistory(ctx, peer, true)
}

// OnScroll loads older history once the viewport reaches the top.
func (s *Store) OnScroll(ctx context.Context, top int) error {
	if top > 0 {
		return nil
	}
	return s.LoadOlder(ctx)
}

// Send appends an optimistic message to the open conversation, renders it,
// then emits the private_message frame. The local copy has no id and is not
// reconciled with the server's echo.
func (s *Store) Send(content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	sess := s.active
	if sess == nil {
		s.mu.Unlock()
		return models.Message{}, ErrNoActiveSession
	}
	if s.self == "" {
		s.mu.Unlock()
		return models.Message{}, ErrNoLocalUser
	}
	msg := models.Message{
		SenderID:   s.self,
		ReceiverID: sess.peer.UserID,
		Content:    content,
		SentAt:     models.At(s.clock.Now()),
	}
	sess.messages = append(sess.messages, msg)
	v := sess.view()
	s.mu.Unlock()

	s.emitAtBottom(v)

	if s.sender == nil {
		return msg, nil
	}
	if err := s.sender.Send(protocol.SendMessage{ReceiverID: msg.ReceiverID, Content: content}); err != nil {
		return msg, fmt.Errorf("send to %s: %w", msg.ReceiverID, err)
	}
	return msg, nil
}

// Receive appends a live message if it belongs to the open conversation.
// It reports whether the message was shown.
func (s *Store) Receive(m models.Message) bool {
	s.mu.Lock()
	sess := s.active
	if sess == nil || sess.peer.UserID != m.SenderID {
		s.mu.Unlock()
		return false
	}
	sess.messages = append(sess.messages, m)
	v := sess.view()
	s.mu.Unlock()

	s.emitAtBottom(v)
	return true
}

// Active returns the open peer.
func (s *Store) Active() (models.UserRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return models.UserRef{}, false
	}
	return s.active.peer, true
}

// Snapshot returns the current view.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return View{State: ViewClosed}
	}
	return s.active.view()
}

func (sess *session) view() View {
	v := View{
		Peer:     sess.peer,
		Messages: append([]models.Message(nil), sess.messages...),
		HasMore:  sess.hasMore,
		Loading:  sess.loading,
	}
	switch {
	case sess.failed:
		v.State = ViewError
	case len(sess.messages) > 0:
		v.State = ViewMessages
	case sess.loading || !sess.loaded:
		v.State = ViewLoading
	default:
		v.State = ViewEmpty
	}
	return v
}

func (s *Store) emit(v View) {
	if s.render != nil {
		s.render(v)
	}
}

func (s *Store) emitAtBottom(v View) {
	s.emit(v)
	if s.viewport != nil {
		s.viewport.SetScrollTop(s.viewport.ScrollHeight())
	}
}

func (s *Store) emitAnchored(v View) {
	if s.viewport == nil {
		s.emit(v)
		return
	}
	oldHeight, oldTop := s.viewport.ScrollHeight(), s.viewport.ScrollTop()
	s.emit(v)
	s.viewport.SetScrollTop(AnchorOffset(oldHeight, oldTop, s.viewport.ScrollHeight()))
}
