package channel

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/chatlinehq/chatline/internal/tenant"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler is a callback invoked when a message arrives from a channel.
type InboundHandler func(ctx context.Context, in Inbound) error

// Adapter is the base interface every channel adapter must implement.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Descriptor holds read-only metadata for a registered channel type.
type Descriptor struct {
	Type        ChannelType
	DisplayName string
	// Configless channels need no credentials; inbound arrives over the
	// platform's own HTTP surface rather than a held connection.
	Configless bool
	// SessionBased channels hold a long-lived connection managed by the
	// Manager's lifecycle state machine.
	SessionBased bool
}

// Sender is an adapter capable of sending outbound messages.
type Sender interface {
	Send(ctx context.Context, ch tenant.Channel, msg Outbound) error
}

// Receiver is an adapter capable of establishing a long-lived connection to
// receive messages. Connect blocks until the link is established or pairing
// is required; status transitions go through the StatusSink.
type Receiver interface {
	Connect(ctx context.Context, ch tenant.Channel, handler InboundHandler, status StatusSink) (Connection, error)
}

// LogoutSupport is an adapter that can discard a channel's stored credential
// state so the tenant can pair again from scratch.
type LogoutSupport interface {
	Logout(ctx context.Context, ch tenant.Channel) error
}

// StatusSink receives channel connection status transitions. Detail carries
// status-specific payload, e.g. the pairing code for awaiting_scan.
type StatusSink interface {
	UpdateStatus(ctx context.Context, channelID, status, detail string)
}

// Connection represents an active, long-lived link to a channel platform.
type Connection interface {
	ChannelID() string
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
	// Done is closed when the connection dies on its own; the manager
	// watches it to drive reconnects.
	Done() <-chan struct{}
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	channelID   string
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
	done        chan struct{}
	closeDone   func()
}

// NewConnection creates a BaseConnection for the given channel and stop function.
func NewConnection(ch tenant.Channel, channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelID:   ch.ID,
		channelType: channelType,
		stop:        stop,
		done:        make(chan struct{}),
	}
	var once atomic.Bool
	conn.closeDone = func() {
		if once.CompareAndSwap(false, true) {
			close(conn.done)
		}
	}
	conn.running.Store(true)
	return conn
}

// ChannelID returns the channel identifier this connection serves.
func (c *BaseConnection) ChannelID() string {
	return c.channelID
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	err := c.stop(ctx)
	c.closeDone()
	return err
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}

// Done returns the channel closed when the connection ends.
func (c *BaseConnection) Done() <-chan struct{} {
	return c.done
}

// MarkDead flags the connection as dropped and releases Done watchers.
// Adapters call it from their disconnect handlers.
func (c *BaseConnection) MarkDead() {
	c.running.Store(false)
	c.closeDone()
}
