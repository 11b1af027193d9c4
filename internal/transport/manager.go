package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/protocol"
)

// State of the connection. Closed and Errored are transient: the manager
// moves to Disconnected right after reporting them, and Connect may be
// called again from there.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned by Connect unless the manager is Disconnected.
	ErrBusy = errors.New("transport: connection already open or in progress")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("transport: send buffer full")
	errAborted        = errors.New("connect aborted by Close")
)

// Handler receives every inbound frame. It is called from a single reader
// goroutine, so calls never overlap.
type Handler func(raw []byte)

// Options configures a Manager.
type Options struct {
	URL        string
	Header     http.Header
	Dialer     Dialer
	SendBuffer int
	// OnState is called after every state transition, outside any lock.
	OnState func(State)
}

// Manager owns the single connection. No reconnection is ever attempted:
// after a close or an error the caller must call Connect again.
type Manager struct {
	url     string
	header  http.Header
	dialer  Dialer
	bufSize int
	onState func(State)
	handler Handler

	mu    sync.Mutex
	state State
	link  *link
}

type link struct {
	conn    ConnLike
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
	log     zerolog.Logger
}

// NewManager returns a Disconnected manager that passes inbound frames to handler.
func NewManager(opts Options, handler Handler) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = NewWSDialer()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Manager{
		url:     opts.URL,
		header:  opts.Header,
		dialer:  opts.Dialer,
		bufSize: opts.SendBuffer,
		onState: opts.OnState,
		handler: handler,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.state = s
	metrics.ConnectionState.Set(float64(s))
}

func (m *Manager) notify(s State) {
	if m.onState != nil {
		m.onState(s)
	}
}

// Connect dials the server and, once open, queues the handshake: identify,
// a presence announcement, and an online snapshot request. Dial failures
// are returned as *ConnectionError. The correlation id of ctx, or a new one,
// tags the connection's logs and the upgrade request.
func (m *Manager) Connect(ctx context.Context, id models.Identity) error {
	corr := logging.CorrelationID(ctx)
	if corr == "" {
		corr = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, corr)
	}
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return ErrBusy
	}
	m.setState(Connecting)
	m.mu.Unlock()
	m.notify(Connecting)

	header := m.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(logging.CorrelationHeader, corr)
	conn, err := m.dialer.Dial(ctx, m.url, header)
	if err == nil {
		m.mu.Lock()
		if m.state != Connecting {
			err = errAborted
		}
		m.mu.Unlock()
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("url", m.url).Msg("websocket connect failed")
		if errors.Is(err, errAborted) {
			m.fail(Closed)
		} else {
			m.fail(Errored)
		}
		return &ConnectionError{URL: m.url, Err: err}
	}

	l := &link{
		conn: conn,
		send: make(chan []byte, m.bufSize),
		done: make(chan struct{}),
		log:  *logging.Ctx(ctx),
	}

	m.mu.Lock()
	m.link = l
	m.setState(Open)
	m.mu.Unlock()
	l.log.Info().Str("url", m.url).Str("user_id", id.UserID.String()).Msg("websocket connected")
	m.notify(Open)

	go m.writePump(l)
	go m.readPump(l)

	for _, f := range []protocol.Outbound{
		protocol.Identify{UserID: id.UserID},
		protocol.Announce{UserID: id.UserID, Username: id.Username},
		protocol.GetOnlineUsers{},
	} {
		if err := m.Send(f); err != nil {
			l.log.Warn().Err(err).Str("type", string(protocol.OutboundType(f))).Msg("handshake frame not sent")
		}
	}
	return nil
}

// fail reports a terminal state and returns to Disconnected.
func (m *Manager) fail(terminal State) {
	m.mu.Lock()
	m.setState(terminal)
	m.mu.Unlock()
	m.notify(terminal)

	m.mu.Lock()
	m.setState(Disconnected)
	m.mu.Unlock()
	m.notify(Disconnected)
}

// Send encodes f and queues it. It never blocks and never retries.
func (m *Manager) Send(f protocol.Outbound) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil {
		metrics.OutboundDropped.Inc()
		return ErrNotConnected
	}

	select {
	case <-l.done:
		metrics.OutboundDropped.Inc()
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- b:
		metrics.FramesSent.WithLabelValues(string(protocol.OutboundType(f))).Inc()
		return nil
	default:
		metrics.OutboundDropped.Inc()
		return ErrSendBufferFull
	}
}

// Close tears the connection down. It is a no-op when nothing is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	l := m.link
	if l == nil {
		// a dial in flight sees this and aborts
		if m.state == Connecting {
			m.setState(Closed)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	l.closing.Store(true)
	if wc, ok := l.conn.(interface {
		WriteControl(int, []byte, time.Time) error
	}); ok {
		_ = wc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	m.teardown(l, nil)
	return nil
}

func (m *Manager) teardown(l *link, cause error) {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()

		terminal := Errored
		if l.closing.Load() || websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			terminal = Closed
		}

		m.mu.Lock()
		current := m.link == l
		if current {
			m.link = nil
		}
		m.mu.Unlock()
		if !current {
			return
		}

		if terminal == Errored {
			l.log.Warn().Err(cause).Msg("websocket connection lost")
		} else {
			l.log.Info().Msg("websocket connection closed")
		}
		m.fail(terminal)
	})
}

func (m *Manager) readPump(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			m.teardown(l, err)
			return
		}
		if m.handler != nil {
			m.handler(data)
		}
	}
}

func (m *Manager) writePump(l *link) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.teardown(l, err)
				return
			}
		}
	}
}
