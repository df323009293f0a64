// Package telegram adapts Telegram bots as a channel. Inbound arrives over
// the bot webhook; outbound goes through the Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/tenant"
)

// Type is the Telegram channel type.
const Type = channel.TypeTelegram

const maxMessageLength = 4096

// Adapter implements channel.Adapter and channel.Sender for Telegram.
type Adapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
	}
}

// ParseUpdate normalizes one webhook update into an inbound intent. Updates
// that carry no usable message (edits, callbacks, joins) are dropped.
func ParseUpdate(ch tenant.Channel, update tgbotapi.Update) (channel.Inbound, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return channel.Inbound{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return channel.Inbound{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	displayName := ""
	if msg.From != nil {
		displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.UserName)
		}
	}
	if displayName == "" {
		displayName = "Telegram user " + chatID
	}

	return channel.Inbound{
		TenantID:          ch.TenantID,
		ChannelID:         ch.ID,
		ChannelType:       Type,
		SessionKey:        channel.SessionKey(ch.ID, chatID),
		ExternalContactID: chatID,
		DisplayName:       displayName,
		Text:              text,
		ContentType:       "text",
	}, true
}

// Send delivers an outbound message to a Telegram chat. The target is the
// numeric chat id captured on inbound.
func (a *Adapter) Send(ctx context.Context, ch tenant.Channel, msg channel.Outbound) error {
	token := credentialString(ch, "bot_token")
	if token == "" {
		return fmt.Errorf("telegram channel %s has no bot token", ch.ID)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.Target), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.Target, err)
	}
	bot, err := a.getOrCreateBot(token, ch.ID)
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(msg.Text, maxMessageLength) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (a *Adapter) getOrCreateBot(token, channelID string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("channel_id", channelID), slog.Any("error", err))
		return nil, err
	}
	a.bots[token] = bot
	return bot, nil
}

func credentialString(ch tenant.Channel, key string) string {
	if ch.Credentials == nil {
		return ""
	}
	v, _ := ch.Credentials[key].(string)
	return strings.TrimSpace(v)
}

// splitMessage cuts text into platform-sized chunks on rune boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		chunks = append(chunks, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// slogBotLogger routes Bot API library logging through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...any) {
	l.log.Debug(fmt.Sprint(v...))
}

func (l *slogBotLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
