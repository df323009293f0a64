package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatlinehq/chatline/internal/tenant"
)

// StatusStore persists channel connection status so tenants can see it.
type StatusStore interface {
	UpdateChannelStatus(ctx context.Context, channelID, status, detail string) error
}

// Manager owns the lifecycle of session-based channel connections. Each
// channel moves through connecting, optionally awaiting_scan while pairing,
// then connected; a dropped link is retried a bounded number of times with a
// fixed delay before the channel degrades to error. An explicit stop or
// logout takes the fast path straight to disconnected.
type Manager struct {
	registry *Registry
	statuses StatusStore
	handler  InboundHandler
	logger   *slog.Logger

	maxRetries     int
	reconnectDelay time.Duration

	mu    sync.Mutex
	conns map[string]*managedConn // keyed by channel id
}

type managedConn struct {
	channel tenant.Channel
	conn    Connection
	cancel  context.CancelFunc
	stopped bool
}

// NewManager creates a Manager. The handler receives every inbound intent
// produced by managed connections.
func NewManager(log *slog.Logger, registry *Registry, statuses StatusStore, handler InboundHandler, maxRetries int, reconnectDelay time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Manager{
		registry:       registry,
		statuses:       statuses,
		handler:        handler,
		logger:         log.With(slog.String("component", "channel_manager")),
		maxRetries:     maxRetries,
		reconnectDelay: reconnectDelay,
		conns:          map[string]*managedConn{},
	}
}

// UpdateStatus records a status transition for a channel. It satisfies
// StatusSink so adapters can report pairing progress directly.
func (m *Manager) UpdateStatus(ctx context.Context, channelID, status, detail string) {
	if err := m.statuses.UpdateChannelStatus(ctx, channelID, status, detail); err != nil {
		m.logger.Warn("status update failed",
			slog.String("channel_id", channelID),
			slog.String("status", status),
			slog.Any("error", err))
	}
	m.logger.Info("channel status",
		slog.String("channel_id", channelID),
		slog.String("status", status))
}

// StartChannel brings one channel's connection up and supervises it until
// StopChannel or repeated failure. It returns once the first connection
// attempt has begun; progress is visible through channel status.
func (m *Manager) StartChannel(ctx context.Context, ch tenant.Channel) error {
	receiver, ok := m.registry.GetReceiver(ChannelType(ch.Type))
	if !ok {
		return fmt.Errorf("channel type %s has no receiver", ch.Type)
	}

	m.mu.Lock()
	if existing, ok := m.conns[ch.ID]; ok && existing.conn != nil && existing.conn.Running() {
		m.mu.Unlock()
		return fmt.Errorf("channel %s already running", ch.ID)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	mc := &managedConn{channel: ch, cancel: cancel}
	m.conns[ch.ID] = mc
	m.mu.Unlock()

	go m.supervise(runCtx, mc, receiver)
	return nil
}

// supervise drives one channel's connect/reconnect loop.
func (m *Manager) supervise(ctx context.Context, mc *managedConn, receiver Receiver) {
	ch := mc.channel
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			m.logger.Info("reconnecting channel",
				slog.String("channel_id", ch.ID),
				slog.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.reconnectDelay):
			}
		}

		m.UpdateStatus(ctx, ch.ID, tenant.StatusConnecting, "")
		conn, err := receiver.Connect(ctx, ch, m.handler, m)
		if err != nil {
			m.logger.Warn("channel connect failed",
				slog.String("channel_id", ch.ID),
				slog.Any("error", err))
			continue
		}

		m.mu.Lock()
		stopped := mc.stopped
		mc.conn = conn
		m.mu.Unlock()
		if stopped {
			_ = conn.Stop(ctx)
			return
		}

		m.UpdateStatus(ctx, ch.ID, tenant.StatusConnected, "")
		attempt = 0

		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
		}

		m.mu.Lock()
		stopped = mc.stopped
		m.mu.Unlock()
		if stopped {
			return
		}
		m.UpdateStatus(ctx, ch.ID, tenant.StatusDisconnected, "")
	}

	m.UpdateStatus(context.WithoutCancel(ctx), ch.ID, tenant.StatusError, "reconnect attempts exhausted")
}

// StopChannel tears a channel's connection down without touching stored
// credentials. The channel can be started again later.
func (m *Manager) StopChannel(ctx context.Context, channelID string) error {
	mc := m.detach(channelID)
	if mc == nil {
		return fmt.Errorf("channel %s is not running", channelID)
	}
	if mc.conn != nil {
		if err := mc.conn.Stop(ctx); err != nil && err != ErrStopNotSupported {
			m.logger.Warn("stop connection failed",
				slog.String("channel_id", channelID),
				slog.Any("error", err))
		}
	}
	m.UpdateStatus(ctx, channelID, tenant.StatusDisconnected, "")
	return nil
}

// Logout stops the channel and purges its stored credential state so the
// tenant pairs again from scratch.
func (m *Manager) Logout(ctx context.Context, ch tenant.Channel) error {
	if mc := m.detach(ch.ID); mc != nil && mc.conn != nil {
		if err := mc.conn.Stop(ctx); err != nil && err != ErrStopNotSupported {
			m.logger.Warn("stop connection failed",
				slog.String("channel_id", ch.ID),
				slog.Any("error", err))
		}
	}
	if logout, ok := m.registry.GetLogout(ChannelType(ch.Type)); ok {
		if err := logout.Logout(ctx, ch); err != nil {
			return fmt.Errorf("purge channel credentials: %w", err)
		}
	}
	m.UpdateStatus(ctx, ch.ID, tenant.StatusDisconnected, "logged out")
	return nil
}

// Status reports whether the manager currently holds a live connection for
// the channel.
func (m *Manager) Status(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.conns[channelID]
	return ok && mc.conn != nil && mc.conn.Running()
}

// StopAll tears down every managed connection, used at shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.StopChannel(ctx, id); err != nil {
			m.logger.Debug("stop channel", slog.String("channel_id", id), slog.Any("error", err))
		}
	}
}

// detach removes the managed entry and cancels its supervisor.
func (m *Manager) detach(channelID string) *managedConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.conns[channelID]
	if !ok {
		return nil
	}
	mc.stopped = true
	delete(m.conns, channelID)
	if mc.cancel != nil {
		mc.cancel()
	}
	return mc
}
