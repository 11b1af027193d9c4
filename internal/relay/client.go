package relay

import (
	"github.com/fasthttp/websocket"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/protocol"
	"github.com/pelusa-v/chatsync/internal/transport"
)

// Client is one websocket connection registered with the hub.
type Client struct {
	ID   string
	User models.UserRef
	Conn transport.ConnLike
	Send chan []byte

	done chan struct{}
}

// NewClient wraps conn for user. id identifies the connection, not the user.
func NewClient(id string, user models.UserRef, conn transport.ConnLike) *Client {
	return &Client{ID: id, User: user, Conn: conn, Send: make(chan []byte, 16), done: make(chan struct{})}
}

// ReadPump forwards decoded frames to the hub until the connection fails,
// then unregisters the client.
func (c *Client) ReadPump(h *Hub) {
	defer h.Unregister(c)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.DecodeClient(data)
		if err != nil {
			logging.Debug().Err(err).Str("conn", c.ID).Msg("relay dropped client frame")
			continue
		}
		if !h.dispatch(inbound{from: c, frame: f}) {
			return
		}
	}
}

// WritePump drains Send until the hub closes it, then closes the
// connection so ReadPump returns. Done is closed once the connection is
// no longer touched.
func (c *Client) WritePump() {
	defer close(c.done)
	defer c.Conn.Close()
	for data := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logging.Debug().Err(err).Str("conn", c.ID).Msg("relay write failed")
			for range c.Send {
			}
			return
		}
	}
}

// Done is closed when WritePump has returned.
func (c *Client) Done() <-chan struct{} { return c.done }

// push queues data without blocking; a slow client loses frames.
func (c *Client) push(data []byte) {
	select {
	case c.Send <- data:
	default:
		logging.Debug().Str("conn", c.ID).Msg("relay send buffer full, frame dropped")
	}
}
