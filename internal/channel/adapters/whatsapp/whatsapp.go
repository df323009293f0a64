// Package whatsapp adapts WhatsApp as a channel through whatsmeow. Each
// channel pairs one WhatsApp account by QR scan; device credentials persist
// in a sqlite-backed sqlstore container so sessions survive restarts.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/tenant"
)

// Type is the WhatsApp channel type.
const Type = channel.TypeWhatsApp

// Adapter implements channel.Adapter, channel.Sender, channel.Receiver, and
// channel.LogoutSupport for WhatsApp.
type Adapter struct {
	logger    *slog.Logger
	container *sqlstore.Container

	mu      sync.RWMutex
	clients map[string]*whatsmeow.Client // keyed by channel id
}

// NewAdapter opens the device store under storeDir and creates the adapter.
func NewAdapter(log *slog.Logger, storeDir string) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(storeDir, "whatsapp.db"))
	container, err := sqlstore.New("sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store: %w", err)
	}
	return &Adapter{
		logger:    log.With(slog.String("adapter", "whatsapp")),
		container: container,
		clients:   map[string]*whatsmeow.Client{},
	}, nil
}

// Type returns the WhatsApp channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the WhatsApp channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:         Type,
		DisplayName:  "WhatsApp",
		SessionBased: true,
	}
}

// Connect brings up the whatsmeow client for one channel. A channel without
// stored credentials goes through the QR pairing loop: each code is pushed
// to the status sink as awaiting_scan until the tenant scans or the codes
// run out.
func (a *Adapter) Connect(ctx context.Context, ch tenant.Channel, handler channel.InboundHandler, status channel.StatusSink) (channel.Connection, error) {
	client, err := a.clientFor(ch)
	if err != nil {
		return nil, err
	}

	conn := channel.NewConnection(ch, Type, func(ctx context.Context) error {
		client.Disconnect()
		return nil
	})

	client.AddEventHandler(a.eventHandler(ch, conn, handler))

	if client.Store.ID == nil {
		// No stored device, pair by QR.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("open qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("whatsapp connect: %w", err)
		}
		if err := a.waitForPairing(ctx, ch, qrChan, status); err != nil {
			client.Disconnect()
			return nil, err
		}
		return conn, nil
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("whatsapp connect: %w", err)
	}
	return conn, nil
}

// waitForPairing consumes the QR channel until login succeeds or pairing
// gives up. Every fresh code surfaces as awaiting_scan with the code as
// detail so the admin API can render it.
func (a *Adapter) waitForPairing(ctx context.Context, ch tenant.Channel, qrChan <-chan whatsmeow.QRChannelItem, status channel.StatusSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("pairing channel closed before login")
			}
			switch evt.Event {
			case "code":
				status.UpdateStatus(ctx, ch.ID, tenant.StatusAwaitingScan, evt.Code)
			case "success":
				a.logger.Info("whatsapp paired", slog.String("channel_id", ch.ID))
				return nil
			case "timeout":
				return fmt.Errorf("qr pairing timed out")
			default:
				return fmt.Errorf("qr pairing failed: %s", evt.Event)
			}
		}
	}
}

// eventHandler translates whatsmeow events into inbound intents and
// connection state changes.
func (a *Adapter) eventHandler(ch tenant.Channel, conn *channel.BaseConnection, handler channel.InboundHandler) whatsmeow.EventHandler {
	return func(evt any) {
		switch v := evt.(type) {
		case *events.Message:
			in, ok := normalizeMessage(ch, v)
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := handler(ctx, in); err != nil {
				a.logger.Warn("inbound handling failed",
					slog.String("channel_id", ch.ID),
					slog.Any("error", err))
			}
		case *events.Disconnected:
			a.logger.Info("whatsapp disconnected", slog.String("channel_id", ch.ID))
			conn.MarkDead()
		case *events.LoggedOut:
			a.logger.Info("whatsapp logged out remotely", slog.String("channel_id", ch.ID))
			conn.MarkDead()
		}
	}
}

// normalizeMessage turns one WhatsApp message event into an inbound intent.
// Group chats, own echoes, and empty payloads are dropped.
func normalizeMessage(ch tenant.Channel, evt *events.Message) (channel.Inbound, bool) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return channel.Inbound{}, false
	}
	text := strings.TrimSpace(evt.Message.GetConversation())
	if text == "" {
		if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
			text = strings.TrimSpace(ext.GetText())
		}
	}
	if text == "" {
		return channel.Inbound{}, false
	}

	sender := evt.Info.Sender
	phone := sender.User
	displayName := strings.TrimSpace(evt.Info.PushName)
	if displayName == "" {
		displayName = phone
	}

	return channel.Inbound{
		TenantID:          ch.TenantID,
		ChannelID:         ch.ID,
		ChannelType:       Type,
		SessionKey:        channel.SessionKey(ch.ID, sender.ToNonAD().String()),
		ExternalContactID: sender.ToNonAD().String(),
		DisplayName:       displayName,
		Phone:             phone,
		Text:              text,
		ContentType:       "text",
	}, true
}

// Send delivers an outbound message. The target is the sender JID captured
// on inbound.
func (a *Adapter) Send(ctx context.Context, ch tenant.Channel, msg channel.Outbound) error {
	a.mu.RLock()
	client, ok := a.clients[ch.ID]
	a.mu.RUnlock()
	if !ok || !client.IsConnected() {
		return fmt.Errorf("whatsapp channel %s is not connected", ch.ID)
	}
	jid, err := types.ParseJID(strings.TrimSpace(msg.Target))
	if err != nil {
		return fmt.Errorf("invalid whatsapp target %q: %w", msg.Target, err)
	}
	_, err = client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(msg.Text),
	})
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return nil
}

// Logout unpairs the channel's device and deletes its stored credentials so
// the next connect starts a fresh QR pairing.
func (a *Adapter) Logout(ctx context.Context, ch tenant.Channel) error {
	a.mu.Lock()
	client, ok := a.clients[ch.ID]
	delete(a.clients, ch.ID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := client.Logout(); err != nil {
		// Remote logout failed, purge the local device store anyway.
		a.logger.Warn("whatsapp logout failed, purging local store",
			slog.String("channel_id", ch.ID),
			slog.Any("error", err))
		client.Disconnect()
		if delErr := client.Store.Delete(); delErr != nil {
			return fmt.Errorf("delete device store: %w", delErr)
		}
	}
	return nil
}

// clientFor returns the channel's client, creating one from the stored
// device when present or a fresh device otherwise.
func (a *Adapter) clientFor(ch tenant.Channel) (*whatsmeow.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if client, ok := a.clients[ch.ID]; ok {
		return client, nil
	}

	device, err := a.deviceFor(ch)
	if err != nil {
		return nil, err
	}
	client := whatsmeow.NewClient(device, waLog.Noop)
	a.clients[ch.ID] = client
	return client, nil
}

// deviceFor finds the stored device matching the channel's paired JID, or
// creates a new device when the channel has never paired.
func (a *Adapter) deviceFor(ch tenant.Channel) (*store.Device, error) {
	jidRaw := credentialString(ch, "jid")
	if jidRaw == "" {
		return a.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(jidRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid stored jid %q: %w", jidRaw, err)
	}
	device, err := a.container.GetDevice(jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		return a.container.NewDevice(), nil
	}
	return device, nil
}

func credentialString(ch tenant.Channel, key string) string {
	if ch.Credentials == nil {
		return ""
	}
	v, _ := ch.Credentials[key].(string)
	return strings.TrimSpace(v)
}
