// Package channel provides a unified abstraction for the messaging surfaces
// a tenant can attach: the web widget, Telegram, and WhatsApp. It defines the
// inbound intent shape, the adapter interfaces, a registry, and a session
// manager for adapters that hold long-lived connections.
package channel

import "strings"

// ChannelType identifies a messaging surface.
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

const (
	TypeWidget   ChannelType = "widget"
	TypeTelegram ChannelType = "telegram"
	TypeWhatsApp ChannelType = "whatsapp"
)

// Inbound is a normalized incoming message intent. Adapters produce these;
// the pipeline resolves them into contacts, conversations, and messages.
type Inbound struct {
	TenantID          string
	ChannelID         string
	ChannelType       ChannelType
	SessionKey        string
	ExternalContactID string
	DisplayName       string
	Email             string
	Phone             string
	Text              string
	ContentType       string
}

// Valid reports whether the intent carries enough to enter the pipeline.
func (in Inbound) Valid() bool {
	return strings.TrimSpace(in.TenantID) != "" &&
		strings.TrimSpace(in.SessionKey) != "" &&
		strings.TrimSpace(in.Text) != ""
}

// Outbound is a normalized outgoing message for an external platform.
type Outbound struct {
	Target string
	Text   string
}

// SessionKey builds the stable per-contact session key for an external
// channel: the channel id scoped by the platform contact id.
func SessionKey(channelID, externalContactID string) string {
	return channelID + ":" + externalContactID
}
