package realtime

import (
	"context"
	"fmt"

	"github.com/chatlinehq/chatline/internal/event"
)

// Subscribe registers the hub's event handlers on the bus. Registration is
// static and happens once at wiring time.
func (h *Hub) Subscribe(bus *event.Bus) {
	bus.Subscribe(event.TypeMessageCreated, h.onMessageCreated)
	bus.Subscribe(event.TypeConversationCreated, h.onConversationCreated)
	bus.Subscribe(event.TypeConversationAssigned, h.onConversationAssigned)
	bus.Subscribe(event.TypeConversationStatus, h.onConversationStatus)
}

// onMessageCreated fans a new message out to two audiences with different
// shapes: the tenant room gets a list-view summary, the conversation and
// session rooms get the full message.
func (h *Hub) onMessageCreated(ctx context.Context, evt event.Event) error {
	payload, ok := evt.Payload.(event.MessageCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T", evt.Payload)
	}

	h.Broadcast(TenantRoom(evt.TenantID), Frame{
		Event: "conversation:updated",
		Data: map[string]any{
			"conversation_id": payload.ConversationID,
			"contact_id":      payload.ContactID,
			"preview":         previewOf(payload.Content),
			"sender_type":     payload.SenderType,
			"last_message_at": payload.CreatedAt,
		},
	})

	full := Frame{
		Event: "message:new",
		Data: map[string]any{
			"id":              payload.MessageID,
			"conversation_id": payload.ConversationID,
			"sender_type":     payload.SenderType,
			"sender_id":       payload.SenderID,
			"content":         payload.Content,
			"content_type":    payload.ContentType,
			"created_at":      payload.CreatedAt,
		},
	}
	h.Broadcast(ConversationRoom(payload.ConversationID), full)
	if payload.SessionKey != "" {
		h.Broadcast(SessionRoom(payload.SessionKey), full)
	}
	return nil
}

func (h *Hub) onConversationCreated(ctx context.Context, evt event.Event) error {
	payload, ok := evt.Payload.(event.ConversationCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T", evt.Payload)
	}
	h.Broadcast(TenantRoom(evt.TenantID), Frame{
		Event: "conversation:new",
		Data: map[string]any{
			"conversation_id": payload.ConversationID,
			"contact_id":      payload.ContactID,
			"channel":         payload.Channel,
		},
	})
	return nil
}

func (h *Hub) onConversationAssigned(ctx context.Context, evt event.Event) error {
	payload, ok := evt.Payload.(event.ConversationAssigned)
	if !ok {
		return fmt.Errorf("unexpected payload %T", evt.Payload)
	}
	frame := Frame{
		Event: "conversation:assigned",
		Data: map[string]any{
			"conversation_id": payload.ConversationID,
			"agent_id":        payload.AgentID,
		},
	}
	h.Broadcast(TenantRoom(evt.TenantID), frame)
	h.Broadcast(AgentRoom(payload.AgentID), frame)
	return nil
}

func (h *Hub) onConversationStatus(ctx context.Context, evt event.Event) error {
	payload, ok := evt.Payload.(event.ConversationStatus)
	if !ok {
		return fmt.Errorf("unexpected payload %T", evt.Payload)
	}
	frame := Frame{
		Event: "conversation:status",
		Data: map[string]any{
			"conversation_id": payload.ConversationID,
			"status":          payload.Status,
		},
	}
	h.Broadcast(TenantRoom(evt.TenantID), frame)
	h.Broadcast(ConversationRoom(payload.ConversationID), frame)
	return nil
}

func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= 80 {
		return content
	}
	return string(runes[:80])
}
