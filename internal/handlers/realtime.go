package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/auth"
	"github.com/chatlinehq/chatline/internal/realtime"
)

// RealtimeHandler upgrades the two websocket endpoints and hands admitted
// connections to the hub.
type RealtimeHandler struct {
	hub       *realtime.Hub
	jwtSecret string
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewRealtimeHandler creates a RealtimeHandler.
func NewRealtimeHandler(log *slog.Logger, hub *realtime.Hub, jwtSecret string) *RealtimeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RealtimeHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The widget is embedded on tenant sites; both endpoints
			// authenticate by token, not origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "realtime")),
	}
}

func (h *RealtimeHandler) Register(e *echo.Echo) {
	e.GET("/realtime/agent", h.AgentSocket)
	e.GET("/realtime/widget", h.WidgetSocket)
}

// AgentSocket admits an authenticated agent connection. The JWT middleware
// has already verified the token (header or ?token= for browsers).
func (h *RealtimeHandler) AgentSocket(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	h.hub.ServeAgent(ws, identity.TenantID, identity.AgentID)
	return nil
}

// WidgetSocket admits a contact connection by widget session token. A bad
// token gets a bare 401 with no detail.
func (h *RealtimeHandler) WidgetSocket(c echo.Context) error {
	sess, err := auth.ParseWidgetToken(c.QueryParam("token"), h.jwtSecret)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	h.hub.ServeWidget(ws, sess.TenantID, sess.SessionID, sess.ContactID)
	return nil
}
