// Package transport owns the single websocket connection between the client
// and the server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fasthttp/websocket"
)

// ConnLike is the subset of a websocket connection the manager uses.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (ConnLike, error)
}

// ErrNotConnected is returned by Send when there is no open connection.
var ErrNotConnected = errors.New("transport: not connected")

// ConnectionError is a transport-level failure to open or keep the connection.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WSDialer dials with fasthttp/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

// NewWSDialer returns a WSDialer with the package defaults.
func NewWSDialer() *WSDialer {
	d := *websocket.DefaultDialer
	d.EnableCompression = true
	return &WSDialer{Dialer: &d}
}

func (d *WSDialer) Dial(ctx context.Context, url string, header http.Header) (ConnLike, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}
