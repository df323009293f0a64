package channel

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chatlinehq/chatline/internal/event"
	"github.com/chatlinehq/chatline/internal/tenant"
)

const dispatchTimeout = 15 * time.Second

// ChannelSource loads channel rows for outbound delivery.
type ChannelSource interface {
	GetChannelByID(ctx context.Context, channelID string) (tenant.Channel, error)
}

// Dispatcher delivers agent and automation messages back to the platform the
// conversation came from. Widget conversations are skipped: the widget client
// already receives the message over its realtime socket.
type Dispatcher struct {
	registry *Registry
	channels ChannelSource
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(log *slog.Logger, registry *Registry, channels ChannelSource) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		channels: channels,
		logger:   log.With(slog.String("component", "outbound")),
	}
}

// Subscribe registers the dispatcher on the bus. Delivery is best effort and
// runs off the publishing goroutine so a slow platform API cannot stall the
// append path.
func (d *Dispatcher) Subscribe(bus *event.Bus) {
	bus.Subscribe(event.TypeMessageCreated, d.onMessageCreated)
}

func (d *Dispatcher) onMessageCreated(_ context.Context, evt event.Event) error {
	payload, ok := evt.Payload.(event.MessageCreated)
	if !ok {
		return nil
	}
	// Contact messages originate at the platform; echoing them back would
	// duplicate the conversation on the contact's side.
	if payload.SenderType == "contact" {
		return nil
	}
	channelID, target, ok := splitSessionKey(payload.SessionKey)
	if !ok {
		return nil
	}
	go d.deliver(channelID, target, payload.Content)
	return nil
}

func (d *Dispatcher) deliver(channelID, target, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	ch, err := d.channels.GetChannelByID(ctx, channelID)
	if err != nil {
		d.logger.Warn("outbound channel lookup failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
		return
	}
	chType, err := d.registry.ParseChannelType(ch.Type)
	if err != nil {
		return
	}
	sender, ok := d.registry.GetSender(chType)
	if !ok {
		return
	}
	if err := sender.Send(ctx, ch, Outbound{Target: target, Text: text}); err != nil {
		d.logger.Warn("outbound delivery failed",
			slog.String("channel_id", channelID),
			slog.String("channel_type", ch.Type),
			slog.Any("error", err))
	}
}

// splitSessionKey undoes SessionKey: "<channel id>:<platform contact id>".
func splitSessionKey(key string) (channelID, target string, ok bool) {
	channelID, target, ok = strings.Cut(key, ":")
	if !ok || channelID == "" || target == "" {
		return "", "", false
	}
	return channelID, target, true
}
