// Package realtime delivers events to connected agent and widget clients
// over WebSocket, grouped into tenant-, conversation-, session-, and
// agent-scoped rooms, and tracks agent presence with a TTL.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chatlinehq/chatline/internal/event"
)

// Frame is the wire shape pushed to clients.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Room key builders.
func TenantRoom(tenantID string) string   { return "tenant:" + tenantID }
func ConversationRoom(id string) string   { return "conversation:" + id }
func SessionRoom(sessionID string) string { return "session:" + sessionID }
func AgentRoom(agentID string) string     { return "agent:" + agentID }

// AgentToucher refreshes an agent's last-seen timestamp off the socket path.
type AgentToucher interface {
	Touch(ctx context.Context, tenantID, agentID string)
}

// ReadMarker advances message read state for relayed read receipts.
type ReadMarker interface {
	MarkRead(ctx context.Context, tenantID, conversationID, throughMessageID string) error
}

// Hub is the process-scoped connection registry. It owns room membership and
// presence; all methods are safe for concurrent use. Delivery is best effort:
// a client whose send buffer is full misses the frame and must re-sync over
// HTTP after reconnecting.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	presence *Presence
	bus      event.Publisher
	agents   AgentToucher
	receipts ReadMarker
	logger   *slog.Logger
	buffer   int
}

// NewHub creates a Hub with the given presence tracker.
func NewHub(log *slog.Logger, presence *Presence, bus event.Publisher, agents AgentToucher, sendBuffer int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		rooms:    map[string]map[*Client]struct{}{},
		presence: presence,
		bus:      bus,
		agents:   agents,
		logger:   log.With(slog.String("component", "realtime")),
		buffer:   sendBuffer,
	}
}

// SetReadMarker wires the message store's read advancement for relayed read
// receipts. Optional; set at wiring time, before any client connects.
func (h *Hub) SetReadMarker(rm ReadMarker) {
	h.receipts = rm
}

// Broadcast sends a frame to every client in a room. Full client buffers are
// skipped; transport failures surface later in the client's write pump.
func (h *Hub) Broadcast(room string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Warn("marshal frame failed", slog.String("event", frame.Event), slog.Any("error", err))
		return
	}
	h.mu.RLock()
	members := h.rooms[room]
	clients := make([]*Client, 0, len(members))
	for c := range members {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(payload)
	}
}

// BroadcastExcept is Broadcast minus one client, used for typing relays so a
// client does not see its own typing indicator.
func (h *Hub) BroadcastExcept(room string, frame Frame, except *Client) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	h.mu.RLock()
	members := h.rooms[room]
	clients := make([]*Client, 0, len(members))
	for c := range members {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(payload)
	}
}

func (h *Hub) join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Client]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// register enrolls a freshly admitted client into its base rooms and, for
// agents, marks presence and announces it.
func (h *Hub) register(c *Client) {
	switch c.kind {
	case clientAgent:
		h.join(TenantRoom(c.tenantID), c)
		h.join(AgentRoom(c.agentID), c)
		if first := h.presence.Mark(c.agentID, c.tenantID); first {
			h.announcePresence(c.tenantID, c.agentID, true)
		}
		if h.agents != nil {
			go h.agents.Touch(context.Background(), c.tenantID, c.agentID)
		}
	case clientContact:
		h.join(TenantRoom(c.tenantID), c)
		h.join(SessionRoom(c.sessionID), c)
	}
	h.logger.Debug("client connected",
		slog.String("kind", string(c.kind)),
		slog.String("tenant_id", c.tenantID))
}

// unregister removes the client from every room. An agent's presence is
// cleared eagerly and offline announced when its last connection drops.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	if c.kind == clientAgent {
		if last := h.presence.Release(c.agentID); last {
			h.announcePresence(c.tenantID, c.agentID, false)
		}
	}
}

func (h *Hub) announcePresence(tenantID, agentID string, online bool) {
	h.Broadcast(TenantRoom(tenantID), Frame{
		Event: "presence:update",
		Data:  map[string]any{"agent_id": agentID, "online": online},
	})
	if h.bus != nil {
		h.bus.Publish(context.Background(), event.Event{
			Type:     event.TypePresenceChanged,
			TenantID: tenantID,
			Payload:  event.PresenceChanged{AgentID: agentID, Online: online},
		})
	}
}

// SweepPresence expires stale presence entries and announces each expiry.
// Wired to a cron tick; a crashed client's presence dies here.
func (h *Hub) SweepPresence() {
	for _, e := range h.presence.Sweep() {
		h.announcePresence(e.TenantID, e.AgentID, false)
	}
}
