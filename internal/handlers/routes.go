// Package handlers exposes the relay over fiber.
package handlers

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/pelusa-v/chatsync/internal/api"
	"github.com/pelusa-v/chatsync/internal/relay"
)

// NewApp builds the relay's fiber app.
func NewApp(hub *relay.Hub) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "chatsync-relay",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	Routes(app, New(hub))
	return app
}

// Routes wires every endpoint onto app.
func Routes(app *fiber.App, h *Handlers) {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})

	// WS
	app.Get("/ws", UpgradeOnly, h.RequireSession, websocket.New(h.WebSocketHandler))

	// HTTP collaborator endpoints
	app.Get(api.PathMessages, h.RequireSession, h.MessagesHandler) // ?user_id=&page=&limit=
	app.Get(api.PathUsers, h.RequireSession, h.UsersHandler)
	app.Get(api.PathOrdered, h.RequireSession, h.OrderedUsersHandler)
	app.Get(api.PathOnlineUsers, h.RequireSession, h.OnlineUsersHandler)

	app.Get("/inbox", h.RequireSession, h.InboxHandler)
	app.Post("/inbox/read", h.RequireSession, h.MarkReadHandler) // ?peer_id=
}
