// Package inbound glues the pipeline stages together: a normalized channel
// intent is resolved to a contact, then to an open conversation, then
// appended as a message. Webhook handlers, the widget socket, and the
// WhatsApp adapter all feed into it.
package inbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/contact"
	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/message"
)

// ContactResolver finds or creates the contact for an identity hint.
type ContactResolver interface {
	Resolve(ctx context.Context, tenantID string, hint contact.IdentityHint) (contact.Contact, error)
}

// ConversationResolver finds or creates the open conversation for a session.
type ConversationResolver interface {
	Resolve(ctx context.Context, tenantID, contactID, sessionKey, channelType string) (conversation.Conversation, error)
}

// MessageAppender persists one message and publishes its events.
type MessageAppender interface {
	Append(ctx context.Context, input message.AppendInput) (message.Message, error)
}

// Processor runs one inbound intent through the pipeline.
type Processor struct {
	contacts      ContactResolver
	conversations ConversationResolver
	messages      MessageAppender
	logger        *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(log *slog.Logger, contacts ContactResolver, conversations ConversationResolver, messages MessageAppender) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		logger:        log.With(slog.String("component", "inbound")),
	}
}

// Process resolves and persists one inbound intent. Malformed intents are
// dropped with a log line and no error: the sending platform gets nothing
// useful from a retry.
func (p *Processor) Process(ctx context.Context, in channel.Inbound) (message.Message, error) {
	if !in.Valid() {
		p.logger.Warn("dropping malformed inbound",
			slog.String("tenant_id", in.TenantID),
			slog.String("channel_type", in.ChannelType.String()))
		return message.Message{}, nil
	}

	c, err := p.contacts.Resolve(ctx, in.TenantID, contact.IdentityHint{
		DisplayName: in.DisplayName,
		Email:       in.Email,
		Phone:       in.Phone,
		ExternalID:  in.ExternalContactID,
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("resolve contact: %w", err)
	}

	conv, err := p.conversations.Resolve(ctx, in.TenantID, c.ID, in.SessionKey, in.ChannelType.String())
	if err != nil {
		return message.Message{}, fmt.Errorf("resolve conversation: %w", err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "text"
	}
	msg, err := p.messages.Append(ctx, message.AppendInput{
		TenantID:       in.TenantID,
		ConversationID: conv.ID,
		SenderType:     message.SenderContact,
		SenderID:       c.ID,
		Content:        in.Text,
		ContentType:    contentType,
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}
