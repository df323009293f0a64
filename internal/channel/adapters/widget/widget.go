// Package widget adapts the embedded web widget as a channel. The widget is
// configless: inbound arrives over the widget HTTP handshake and WebSocket,
// so the adapter only normalizes payloads into inbound intents.
package widget

import (
	"strings"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/tenant"
)

// Type is the widget channel type.
const Type = channel.TypeWidget

// Adapter implements channel.Adapter for the web widget.
type Adapter struct{}

// NewAdapter creates a widget adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Type returns the widget channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the widget channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Web Widget",
		Configless:  true,
	}
}

// Visitor identifies a widget visitor as captured at handshake time.
type Visitor struct {
	SessionID   string
	DisplayName string
	Email       string
	Phone       string
}

// Normalize turns a widget message into an inbound intent. The session id
// doubles as both session key and external identity: anonymous visitors stay
// distinct per session, while an email provided at handshake matches a
// returning contact.
func Normalize(ch tenant.Channel, v Visitor, text string) (channel.Inbound, bool) {
	text = strings.TrimSpace(text)
	if text == "" || v.SessionID == "" {
		return channel.Inbound{}, false
	}
	displayName := strings.TrimSpace(v.DisplayName)
	if displayName == "" {
		displayName = "Website visitor"
	}
	return channel.Inbound{
		TenantID:          ch.TenantID,
		ChannelID:         ch.ID,
		ChannelType:       Type,
		SessionKey:        v.SessionID,
		ExternalContactID: v.SessionID,
		DisplayName:       displayName,
		Email:             strings.TrimSpace(v.Email),
		Phone:             strings.TrimSpace(v.Phone),
		Text:              text,
		ContentType:       "text",
	}, true
}
