// Package event provides the in-process typed publish/subscribe bus that
// decouples persistence from realtime delivery and automation triggering.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Type names a domain event.
type Type string

const (
	TypeMessageCreated       Type = "message.created"
	TypeConversationCreated  Type = "conversation.created"
	TypeConversationAssigned Type = "conversation.assigned"
	TypeConversationStatus   Type = "conversation.status_updated"
	TypeAutomationTrigger    Type = "automation.trigger"
	TypePresenceChanged      Type = "presence.changed"
)

// Event is an immutable value delivered to subscribers. Payload holds one of
// the typed payload structs below, never a raw map.
type Event struct {
	Type       Type
	TenantID   string
	OccurredAt time.Time
	Payload    any
}

// MessageCreated is the payload for TypeMessageCreated.
type MessageCreated struct {
	MessageID      string
	ConversationID string
	ContactID      string
	SessionKey     string
	SenderType     string
	SenderID       string
	Content        string
	ContentType    string
	CreatedAt      time.Time
}

// ConversationCreated is the payload for TypeConversationCreated.
type ConversationCreated struct {
	ConversationID string
	ContactID      string
	Channel        string
	SessionKey     string
}

// ConversationAssigned is the payload for TypeConversationAssigned.
type ConversationAssigned struct {
	ConversationID string
	AgentID        string
}

// ConversationStatus is the payload for TypeConversationStatus.
type ConversationStatus struct {
	ConversationID string
	Status         string
}

// AutomationTrigger is the payload for TypeAutomationTrigger. Context carries
// the event context automation conditions are evaluated against.
type AutomationTrigger struct {
	TriggerType string
	Context     map[string]any
}

// PresenceChanged is the payload for TypePresenceChanged.
type PresenceChanged struct {
	AgentID string
	Online  bool
}

// Handler consumes one event. Errors are logged at the bus and never stop
// delivery to other handlers.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Bus is a synchronous fire-and-continue dispatcher. Handler registration
// happens at wiring time; Publish may be called from any goroutine.
// Delivery runs on the publishing goroutine in subscription order, which
// preserves per-conversation ordering of message.created events as long as
// appends for one conversation are published sequentially.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		handlers: map[Type][]Handler{},
		logger:   log.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event to every subscriber of its type. A failing or
// panicking subscriber is logged and skipped; the publisher never fails.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := b.handlers[evt.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, evt, h)
	}
}

func (b *Bus) deliver(ctx context.Context, evt Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic",
				slog.String("event", string(evt.Type)),
				slog.Any("panic", fmt.Sprint(r)))
		}
	}()
	if err := h(ctx, evt); err != nil {
		b.logger.Warn("subscriber failed",
			slog.String("event", string(evt.Type)),
			slog.String("tenant_id", evt.TenantID),
			slog.Any("error", err))
	}
}
