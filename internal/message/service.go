package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/event"
)

// ErrMessageNotFound indicates the message does not exist for the tenant.
var ErrMessageNotFound = errors.New("message not found")

// Store is the persistence interface. Insert applies the message insert and
// the parent conversation's denormalized update in one transaction.
type Store interface {
	Insert(ctx context.Context, m Message, preview string, bumpUnread bool) (Message, error)
	AdvanceRead(ctx context.Context, tenantID, conversationID, throughMessageID string) error
	ListBefore(ctx context.Context, tenantID, conversationID string, before *time.Time, limit int) ([]Message, error)
}

// ConversationReader resolves a conversation for tenancy checks and event
// enrichment.
type ConversationReader interface {
	Get(ctx context.Context, tenantID, conversationID string) (conversation.Conversation, error)
}

// Service appends and reads messages. The store commits first; events are
// published after, so realtime delivery can never roll back a saved message.
type Service struct {
	store         Store
	conversations ConversationReader
	bus           event.Publisher
	logger        *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, store Store, conversations ConversationReader, bus event.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:         store,
		conversations: conversations,
		bus:           bus,
		logger:        log.With(slog.String("service", "message")),
	}
}

// Append persists one message and updates the parent conversation: last
// message timestamp and preview always, unread counter and read flag only for
// contact-authored messages.
func (s *Service) Append(ctx context.Context, input AppendInput) (Message, error) {
	if strings.TrimSpace(input.Content) == "" {
		return Message{}, fmt.Errorf("content is required")
	}
	switch input.SenderType {
	case SenderContact, SenderAgent, SenderSystem:
	default:
		return Message{}, fmt.Errorf("unknown sender type %q", input.SenderType)
	}
	if input.ContentType == "" {
		input.ContentType = ContentText
	}

	conv, err := s.conversations.Get(ctx, input.TenantID, input.ConversationID)
	if err != nil {
		return Message{}, err
	}

	saved, err := s.store.Insert(ctx, Message{
		ConversationID: conv.ID,
		TenantID:       input.TenantID,
		SenderType:     input.SenderType,
		SenderID:       input.SenderID,
		Content:        input.Content,
		ContentType:    input.ContentType,
		Status:         StatusSent,
	}, preview(input.Content), input.SenderType == SenderContact)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	s.publish(ctx, event.Event{
		Type:     event.TypeMessageCreated,
		TenantID: input.TenantID,
		Payload: event.MessageCreated{
			MessageID:      saved.ID,
			ConversationID: conv.ID,
			ContactID:      conv.ContactID,
			SessionKey:     conv.SessionKey,
			SenderType:     saved.SenderType,
			SenderID:       saved.SenderID,
			Content:        saved.Content,
			ContentType:    saved.ContentType,
			CreatedAt:      saved.CreatedAt,
		},
	})
	s.publish(ctx, event.Event{
		Type:     event.TypeAutomationTrigger,
		TenantID: input.TenantID,
		Payload: event.AutomationTrigger{
			TriggerType: "message_created",
			Context: map[string]any{
				"message": map[string]any{
					"id":           saved.ID,
					"content":      saved.Content,
					"content_type": saved.ContentType,
					"sender_type":  saved.SenderType,
				},
				"conversation": map[string]any{
					"id":       conv.ID,
					"channel":  conv.Channel,
					"status":   conv.Status,
					"priority": conv.Priority,
				},
				"contact": map[string]any{
					"id": conv.ContactID,
				},
			},
		},
	})
	return saved, nil
}

// MarkRead advances contact-authored messages up to and including the given
// message to read status. Agent-authored messages are never touched; calling
// twice with the same message id is a no-op the second time.
func (s *Service) MarkRead(ctx context.Context, tenantID, conversationID, throughMessageID string) error {
	if _, err := s.conversations.Get(ctx, tenantID, conversationID); err != nil {
		return err
	}
	if err := s.store.AdvanceRead(ctx, tenantID, conversationID, throughMessageID); err != nil {
		return fmt.Errorf("advance read: %w", err)
	}
	return nil
}

// ListBefore returns up to limit messages created before the cursor, oldest
// first for rendering. The store fetches newest-first internally.
func (s *Service) ListBefore(ctx context.Context, tenantID, conversationID string, before *time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.conversations.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListBefore(ctx, tenantID, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	// reverse newest-first into oldest-first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, evt)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit])
}
