package handlers

import (
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pelusa-v/chatsync/internal/api"
	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/models"
	"github.com/pelusa-v/chatsync/internal/relay"
)

const (
	localUser = "user"

	defaultLimit = 10
	maxLimit     = 100
)

// Handlers serves the relay's HTTP and websocket endpoints.
type Handlers struct {
	hub *relay.Hub
}

// New returns handlers backed by hub.
func New(hub *relay.Hub) *Handlers {
	return &Handlers{hub: hub}
}

func sessionUser(c *fiber.Ctx) models.UserRef {
	u, _ := c.Locals(localUser).(models.UserRef)
	return u
}

// RequireSession resolves the session_id cookie to a directory user.
func (h *Handlers) RequireSession(c *fiber.Ctx) error {
	id := models.NormalizeID(c.Cookies(api.SessionCookie))
	name, ok := h.hub.Lookup(id)
	if id == "" || !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	c.Locals(localUser, models.UserRef{UserID: id, Username: name})
	return c.Next()
}

// UpgradeOnly rejects plain HTTP requests to the websocket endpoint.
func UpgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler GET /ws
func (h *Handlers) WebSocketHandler(c *websocket.Conn) {
	user, _ := c.Locals(localUser).(models.UserRef)
	client := relay.NewClient(uuid.NewString(), user, c)
	if err := h.hub.Register(client); err != nil {
		logging.Warn().Err(err).Msg("relay refused websocket client")
		return
	}
	go client.WritePump()
	client.ReadPump(h.hub)
	// the conn goes back to the pool when this handler returns
	<-client.Done()
}

// MessagesHandler GET /messages?user_id=&page=&limit=
func (h *Handlers) MessagesHandler(c *fiber.Ctx) error {
	peer := models.NormalizeID(c.Query("user_id"))
	if peer == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing user_id"})
	}
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid page"})
	}
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	msgs, err := h.hub.History(sessionUser(c).UserID, peer, page, limit)
	if err != nil {
		logging.Error().Err(err).Str("peer", peer.String()).Msg("history read failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history unavailable"})
	}
	return c.JSON(msgs)
}

// UsersHandler GET /users
func (h *Handlers) UsersHandler(c *fiber.Ctx) error {
	return c.JSON(h.hub.Directory(sessionUser(c).UserID, false))
}

// OrderedUsersHandler GET /users/ordered-by-last-message
func (h *Handlers) OrderedUsersHandler(c *fiber.Ctx) error {
	return c.JSON(h.hub.Directory(sessionUser(c).UserID, true))
}

// OnlineUsersHandler GET /online-users
func (h *Handlers) OnlineUsersHandler(c *fiber.Ctx) error {
	return c.JSON(h.hub.OnlineUsers(sessionUser(c).UserID))
}

// InboxHandler GET /inbox
func (h *Handlers) InboxHandler(c *fiber.Ctx) error {
	return c.JSON(h.hub.Inbox(sessionUser(c).UserID))
}

// MarkReadHandler POST /inbox/read?peer_id=
func (h *Handlers) MarkReadHandler(c *fiber.Ctx) error {
	peer := models.NormalizeID(c.Query("peer_id"))
	if peer == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	h.hub.MarkRead(sessionUser(c).UserID, peer)
	return c.SendStatus(fiber.StatusNoContent)
}
