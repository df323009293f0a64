package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type clientKind string

const (
	clientAgent   clientKind = "agent"
	clientContact clientKind = "contact"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Client is one live WebSocket connection.
type Client struct {
	hub  *Hub
	ws   *websocket.Conn
	kind clientKind

	tenantID  string
	agentID   string // agent clients only
	sessionID string // contact clients only
	contactID string // contact clients only

	// sendMu serializes enqueue against closeSend so a frame can never land
	// on a closed channel while a broadcast races connection teardown.
	sendMu sync.Mutex
	closed bool
	send   chan []byte

	logger *slog.Logger
}

// clientFrame is the shape of client-initiated frames.
type clientFrame struct {
	Event string `json:"event"`
	Data  struct {
		ConversationID string `json:"conversation_id"`
		MessageID      string `json:"message_id"`
	} `json:"data"`
}

// ServeAgent runs an admitted agent connection until it drops. The caller
// has already verified the agent credential.
func (h *Hub) ServeAgent(ws *websocket.Conn, tenantID, agentID string) {
	c := &Client{
		hub:      h,
		ws:       ws,
		kind:     clientAgent,
		tenantID: tenantID,
		agentID:  agentID,
		send:     make(chan []byte, h.buffer),
		logger:   h.logger.With(slog.String("agent_id", agentID)),
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

// ServeWidget runs an admitted contact connection until it drops. The caller
// has already resolved the session token to a live session.
func (h *Hub) ServeWidget(ws *websocket.Conn, tenantID, sessionID, contactID string) {
	c := &Client{
		hub:       h,
		ws:        ws,
		kind:      clientContact,
		tenantID:  tenantID,
		sessionID: sessionID,
		contactID: contactID,
		send:      make(chan []byte, h.buffer),
		logger:    h.logger.With(slog.String("session_id", sessionID)),
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

// enqueue hands a marshalled frame to the write pump. A full buffer drops the
// frame: delivery is best effort and the client re-syncs over HTTP.
func (c *Client) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Debug("send buffer full, dropping frame")
	}
}

// closeSend shuts the write pump down. Idempotent; after it returns no
// enqueue can touch the channel.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.closeSend()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(64 * 1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Debug("bad client frame", slog.Any("error", err))
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one client-initiated frame. Typing and read receipts are
// relayed, never persisted here.
func (c *Client) handle(frame clientFrame) {
	switch frame.Event {
	case "heartbeat":
		if c.kind == clientAgent {
			c.hub.presence.Heartbeat(c.agentID)
		}
	case "conversation:join":
		if id := strings.TrimSpace(frame.Data.ConversationID); id != "" {
			c.hub.join(ConversationRoom(id), c)
		}
	case "conversation:leave":
		if id := strings.TrimSpace(frame.Data.ConversationID); id != "" {
			c.hub.leave(ConversationRoom(id), c)
		}
	case "typing:start", "typing:stop":
		c.relayTyping(frame.Event, frame.Data.ConversationID)
	case "message:read":
		c.relayReadReceipt(frame.Data.ConversationID, frame.Data.MessageID)
	default:
		c.logger.Debug("unknown client event", slog.String("event", frame.Event))
	}
}

func (c *Client) relayTyping(eventName, conversationID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return
	}
	from := "contact"
	if c.kind == clientAgent {
		from = "agent"
	}
	c.hub.BroadcastExcept(ConversationRoom(conversationID), Frame{
		Event: eventName,
		Data: map[string]any{
			"conversation_id": conversationID,
			"from":            from,
		},
	}, c)
}

func (c *Client) relayReadReceipt(conversationID, messageID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return
	}
	c.hub.BroadcastExcept(ConversationRoom(conversationID), Frame{
		Event: "message:read",
		Data: map[string]any{
			"conversation_id": conversationID,
			"message_id":      messageID,
		},
	}, c)
	if c.hub.receipts != nil && strings.TrimSpace(messageID) != "" {
		// Read advancement persists through the message store, off the
		// socket goroutine. Failures only log; the relay already happened.
		go func() {
			if err := c.hub.receipts.MarkRead(context.Background(), c.tenantID, conversationID, messageID); err != nil {
				c.logger.Warn("read receipt persistence failed", slog.Any("error", err))
			}
		}()
	}
}
