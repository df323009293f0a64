package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/channel/adapters/telegram"
	"github.com/chatlinehq/chatline/internal/message"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// InboundProcessor runs a normalized inbound intent through the pipeline.
type InboundProcessor interface {
	Process(ctx context.Context, in channel.Inbound) (message.Message, error)
}

// TelegramHandler receives Telegram webhook updates. Telegram retries on any
// non-200, so processing failures are logged and swallowed; only a bad
// secret token is rejected.
type TelegramHandler struct {
	channels  ChannelLookup
	processor InboundProcessor
	secret    string
	logger    *slog.Logger
}

// NewTelegramHandler creates a TelegramHandler. An empty secret disables the
// header check.
func NewTelegramHandler(log *slog.Logger, channels ChannelLookup, processor InboundProcessor, secret string) *TelegramHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramHandler{
		channels:  channels,
		processor: processor,
		secret:    secret,
		logger:    log.With(slog.String("handler", "telegram_webhook")),
	}
}

func (h *TelegramHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/telegram/:channel_id", h.Webhook)
}

func (h *TelegramHandler) Webhook(c echo.Context) error {
	if h.secret != "" && c.Request().Header.Get(telegramSecretHeader) != h.secret {
		return echo.NewHTTPError(http.StatusUnauthorized, "bad secret token")
	}

	channelID := c.Param("channel_id")
	ch, err := h.channels.GetChannelByID(c.Request().Context(), channelID)
	if err != nil || ch.Type != channel.TypeTelegram.String() {
		h.logger.Warn("webhook for unknown telegram channel", slog.String("channel_id", channelID))
		return c.NoContent(http.StatusOK)
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		h.logger.Warn("undecodable telegram update",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
		return c.NoContent(http.StatusOK)
	}

	in, ok := telegram.ParseUpdate(ch, update)
	if !ok {
		return c.NoContent(http.StatusOK)
	}
	if _, err := h.processor.Process(c.Request().Context(), in); err != nil {
		h.logger.Error("telegram inbound processing failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
	return c.NoContent(http.StatusOK)
}
