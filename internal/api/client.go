// Package api is the HTTP client for the server's REST collaborator
// endpoints: message history, the user directory and the online subset.
//
// Requests go through a circuit breaker. Failures are never retried; an
// open circuit fails fast with ErrCircuitOpen.
package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"

	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/metrics"
	"github.com/pelusa-v/chatsync/internal/models"
)

const (
	PathMessages    = "/messages"
	PathUsers       = "/users"
	PathOrdered     = "/users/ordered-by-last-message"
	PathOnlineUsers = "/online-users"

	// SessionCookie carries the session credential on every request.
	SessionCookie = "session_id"
)

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("api: circuit open")

// StatusError is a non-2xx response.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.Code)
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	SessionToken  string
	Timeout       time.Duration
	DirectoryPath string
}

// Client fetches collaborator data over HTTP.
type Client struct {
	base    string
	token   string
	timeout time.Duration
	dirPath string
	http    *fasthttp.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DirectoryPath == "" {
		cfg.DirectoryPath = PathOrdered
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.SessionToken,
		timeout: cfg.Timeout,
		dirPath: cfg.DirectoryPath,
		http: &fasthttp.Client{
			Name:                "chatsync",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "collaborator-api",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// 4xx means the server answered; only transport and 5xx failures count.
			IsSuccessful: func(err error) bool {
				var se *StatusError
				return err == nil || (errors.As(err, &se) && se.Code < 500)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

// historyRow accepts both sent_at and timestamp.
type historyRow struct {
	models.Message
	Timestamp models.Timestamp `json:"timestamp"`
}

// FetchHistory returns one page of the conversation with peer, in server order.
func (c *Client) FetchHistory(ctx context.Context, peer models.UserID, page, limit int) ([]models.Message, error) {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("user_id", peer.String())
	args.Set("page", strconv.Itoa(page))
	args.Set("limit", strconv.Itoa(limit))

	var rows []historyRow
	if err := c.get(ctx, PathMessages, args, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Message, len(rows))
	for i, r := range rows {
		m := r.Message
		if m.SentAt.IsZero() {
			m.SentAt = r.Timestamp
		}
		out[i] = m
	}
	return out, nil
}

// FetchUsers returns the directory from the configured path.
func (c *Client) FetchUsers(ctx context.Context) ([]models.Peer, error) {
	var users []models.Peer
	if err := c.get(ctx, c.dirPath, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FetchOnlineUsers returns the currently online subset.
func (c *Client) FetchOnlineUsers(ctx context.Context) ([]models.UserRef, error) {
	var users []models.UserRef
	if err := c.get(ctx, PathOnlineUsers, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, path string, args *fasthttp.Args, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, path, args)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CollaboratorRequests.WithLabelValues(path, "rejected").Inc()
			return fmt.Errorf("GET %s: %w", path, ErrCircuitOpen)
		}
		metrics.CollaboratorRequests.WithLabelValues(path, "failure").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("collaborator request failed")
		return err
	}
	metrics.CollaboratorRequests.WithLabelValues(path, "success").Inc()

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, args *fasthttp.Args) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.base + path
	if args != nil && args.Len() > 0 {
		uri += "?" + args.String()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if c.token != "" {
		req.Header.SetCookie(SessionCookie, c.token)
	}
	if id := logging.CorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationHeader, id)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &StatusError{Path: path, Code: code}
	}
	// resp is released on return
	return append([]byte(nil), resp.Body()...), nil
}
