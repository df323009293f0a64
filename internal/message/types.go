// Package message persists conversation messages and keeps the parent
// conversation's denormalized last-message and unread fields in step.
package message

import "time"

// Sender types.
const (
	SenderContact = "contact"
	SenderAgent   = "agent"
	SenderSystem  = "system"
)

// Message statuses, advanced strictly forward.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// ContentText is the default content type.
const ContentText = "text"

// Message is one persisted message. Immutable once created except for status
// and its timestamps.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	TenantID       string     `json:"tenant_id"`
	SenderType     string     `json:"sender_type"`
	SenderID       string     `json:"sender_id,omitempty"`
	Content        string     `json:"content"`
	ContentType    string     `json:"content_type"`
	Status         string     `json:"status"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AppendInput is the input for appending a message to a conversation.
type AppendInput struct {
	TenantID       string
	ConversationID string
	SenderType     string
	SenderID       string
	Content        string
	ContentType    string
}

// previewLimit is the rune length of the conversation last-message preview.
const previewLimit = 200
