package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/auth"
	"github.com/chatlinehq/chatline/internal/channel/adapters/widget"
	"github.com/chatlinehq/chatline/internal/contact"
)

// WidgetHandler serves the unauthenticated widget surface: the session
// handshake and the message send endpoint.
type WidgetHandler struct {
	channels  ChannelLookup
	contacts  *contact.Service
	processor InboundProcessor
	geo       *Geolocator
	jwtSecret string
	expiresIn time.Duration
	logger    *slog.Logger
}

// NewWidgetHandler creates a WidgetHandler. geo may be nil to disable
// geolocation enrichment.
func NewWidgetHandler(log *slog.Logger, channels ChannelLookup, contacts *contact.Service, processor InboundProcessor, geo *Geolocator, jwtSecret string, expiresIn time.Duration) *WidgetHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WidgetHandler{
		channels:  channels,
		contacts:  contacts,
		processor: processor,
		geo:       geo,
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("handler", "widget")),
	}
}

func (h *WidgetHandler) Register(e *echo.Echo) {
	e.POST("/widget/session", h.Handshake)
	e.POST("/widget/messages", h.SendMessage)
}

var validate = validator.New()

type handshakeRequest struct {
	WidgetKey string `json:"widget_key" validate:"required"`
	Token     string `json:"token"`
	Name      string `json:"name" validate:"omitempty,max=200"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty,e164"`
}

type handshakeResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	SessionID string          `json:"session_id"`
	Contact   contact.Contact `json:"contact"`
}

// Handshake exchanges a widget key (plus an optional prior session token)
// for a session token. A valid prior token keeps its session id so the
// visitor stays in the same conversation across page loads.
func (h *WidgetHandler) Handshake(c echo.Context) error {
	var req handshakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ch, err := h.channels.GetChannelByWidgetKey(c.Request().Context(), strings.TrimSpace(req.WidgetKey))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown widget key")
	}

	sessionID := ""
	if req.Token != "" {
		if prior, err := auth.ParseWidgetToken(req.Token, h.jwtSecret); err == nil && prior.TenantID == ch.TenantID {
			sessionID = prior.SessionID
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ct, err := h.contacts.Resolve(c.Request().Context(), ch.TenantID, contact.IdentityHint{
		DisplayName: req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		ExternalID:  sessionID,
	})
	if err != nil {
		h.logger.Error("widget contact resolution failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "handshake failed")
	}

	if h.geo != nil {
		go h.enrichLocation(ch.TenantID, ct.ID, c.RealIP())
	}

	token, expiresAt, err := auth.GenerateWidgetToken(auth.WidgetSession{
		SessionID: sessionID,
		TenantID:  ch.TenantID,
		ChannelID: ch.ID,
		ContactID: ct.ID,
	}, h.jwtSecret, h.expiresIn)
	if err != nil {
		h.logger.Error("widget token generation failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "handshake failed")
	}
	return c.JSON(http.StatusOK, handshakeResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: sessionID,
		Contact:   ct,
	})
}

// enrichLocation attaches coarse location metadata to the contact. Failures
// are logged at debug and otherwise ignored.
func (h *WidgetHandler) enrichLocation(tenantID, contactID, ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), geoLookupTimeout+time.Second)
	defer cancel()
	meta, err := h.geo.Lookup(ctx, ip)
	if err != nil {
		h.logger.Debug("geolocation lookup skipped", slog.String("ip", ip), slog.Any("error", err))
		return
	}
	if err := h.contacts.MergeMetadata(ctx, tenantID, contactID, meta); err != nil {
		h.logger.Debug("geolocation enrichment failed", slog.Any("error", err))
	}
}

type widgetMessageRequest struct {
	Token   string `json:"token"`
	Content string `json:"content"`
}

// SendMessage appends a visitor message to the session's conversation. The
// session token authenticates the call; realtime fan-out notifies the agent
// side and echoes the message back to the session room.
func (h *WidgetHandler) SendMessage(c echo.Context) error {
	var req widgetMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := auth.ParseWidgetToken(req.Token, h.jwtSecret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	ch, err := h.channels.GetChannel(c.Request().Context(), sess.TenantID, sess.ChannelID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "channel no longer exists")
	}
	in, ok := widget.Normalize(ch, widget.Visitor{SessionID: sess.SessionID}, req.Content)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "empty message")
	}
	msg, err := h.processor.Process(c.Request().Context(), in)
	if err != nil {
		h.logger.Error("widget message processing failed",
			slog.String("session_id", sess.SessionID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "message not accepted")
	}
	return c.JSON(http.StatusCreated, msg)
}
