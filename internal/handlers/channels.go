package handlers

import (
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/auth"
	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/channel/adapters/whatsapp"
	"github.com/chatlinehq/chatline/internal/tenant"
)

// ChannelsHandler administers tenant channels: status, session connect and
// disconnect, logout, and the WhatsApp pairing QR.
type ChannelsHandler struct {
	channels ChannelLookup
	manager  *channel.Manager
	logger   *slog.Logger
}

// NewChannelsHandler creates a ChannelsHandler.
func NewChannelsHandler(log *slog.Logger, channels ChannelLookup, manager *channel.Manager) *ChannelsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelsHandler{
		channels: channels,
		manager:  manager,
		logger:   log.With(slog.String("handler", "channels")),
	}
}

func (h *ChannelsHandler) Register(e *echo.Echo) {
	g := e.Group("/api/channels")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/connect", h.Connect)
	g.POST("/:id/disconnect", h.Disconnect)
	g.POST("/:id/logout", h.Logout)
	g.GET("/:id/qr", h.QR)
}

type channelListResponse struct {
	Items []tenant.Channel `json:"items"`
}

func (h *ChannelsHandler) List(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.channels.ListChannels(c.Request().Context(), identity.TenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []tenant.Channel{}
	}
	return c.JSON(http.StatusOK, channelListResponse{Items: items})
}

type channelStatusResponse struct {
	tenant.Channel
	Running bool `json:"running"`
}

func (h *ChannelsHandler) Get(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	ch, err := h.channels.GetChannel(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, tenant.ErrChannelNotFound)
	}
	return c.JSON(http.StatusOK, channelStatusResponse{
		Channel: ch,
		Running: h.manager.Status(ch.ID),
	})
}

// Connect starts the channel's session connection. Connection establishment
// is asynchronous; the client polls status (or the QR endpoint for WhatsApp)
// to follow progress.
func (h *ChannelsHandler) Connect(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	ch, err := h.channels.GetChannel(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, tenant.ErrChannelNotFound)
	}
	if err := h.manager.StartChannel(c.Request().Context(), ch); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": tenant.StatusConnecting})
}

func (h *ChannelsHandler) Disconnect(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	ch, err := h.channels.GetChannel(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, tenant.ErrChannelNotFound)
	}
	if err := h.manager.StopChannel(c.Request().Context(), ch.ID); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Logout tears the session down and purges stored credentials so the next
// connect starts a fresh pairing.
func (h *ChannelsHandler) Logout(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	ch, err := h.channels.GetChannel(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, tenant.ErrChannelNotFound)
	}
	if err := h.manager.Logout(c.Request().Context(), ch); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// QR renders the current WhatsApp pairing code. While the channel is in
// awaiting_scan its status detail carries the code; any other status means
// there is nothing to scan. ?format=base64 wraps the PNG for clients that
// cannot display a binary body.
func (h *ChannelsHandler) QR(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	ch, err := h.channels.GetChannel(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, tenant.ErrChannelNotFound)
	}
	if ch.Status != tenant.StatusAwaitingScan || ch.StatusDetail == "" {
		return echo.NewHTTPError(http.StatusConflict, "channel is not awaiting a scan")
	}
	png, err := whatsapp.QRPNG(ch.StatusDetail, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if c.QueryParam("format") == "base64" {
		return c.JSON(http.StatusOK, map[string]string{
			"qr": base64.StdEncoding.EncodeToString(png),
		})
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
