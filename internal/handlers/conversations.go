package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/auth"
	"github.com/chatlinehq/chatline/internal/contact"
	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/message"
)

// ConversationsHandler serves the agent-facing conversations API.
type ConversationsHandler struct {
	conversations *conversation.Service
	messages      *message.Service
	contacts      *contact.Service
	logger        *slog.Logger
}

// NewConversationsHandler creates a ConversationsHandler.
func NewConversationsHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Service, contacts *contact.Service) *ConversationsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationsHandler{
		conversations: conversations,
		messages:      messages,
		contacts:      contacts,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	g := e.Group("/api/conversations")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.Reply)
	g.POST("/:id/assign", h.Assign)
	g.POST("/:id/resolve", h.Resolve)
	g.POST("/:id/reopen", h.Reopen)
	g.POST("/:id/read", h.MarkRead)
	g.PUT("/:id/priority", h.SetPriority)
	g.POST("/:id/tags", h.AddTag)
	g.DELETE("/:id/tags/:tag", h.RemoveTag)
}

type conversationListResponse struct {
	Items []conversation.Conversation `json:"items"`
}

// List returns a filtered page of the tenant's conversations, newest
// activity first. The "before" cursor pages by last_message_at.
func (h *ConversationsHandler) List(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	before, err := beforeParam(c)
	if err != nil {
		return err
	}
	q := conversation.ListQuery{
		Filter:  strings.TrimSpace(c.QueryParam("filter")),
		AgentID: identity.AgentID,
		Before:  before,
		Limit:   limitParam(c),
	}
	items, err := h.conversations.List(c.Request().Context(), identity.TenantID, q)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if items == nil {
		items = []conversation.Conversation{}
	}
	return c.JSON(http.StatusOK, conversationListResponse{Items: items})
}

type conversationDetail struct {
	conversation.Conversation
	Contact *contact.Contact `json:"contact,omitempty"`
}

// Get returns one conversation with its contact embedded.
func (h *ConversationsHandler) Get(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Get(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	detail := conversationDetail{Conversation: conv}
	if ct, err := h.contacts.Get(c.Request().Context(), identity.TenantID, conv.ContactID); err == nil {
		detail.Contact = &ct
	}
	return c.JSON(http.StatusOK, detail)
}

type messageListResponse struct {
	Items []message.Message `json:"items"`
}

// ListMessages returns a page of messages, oldest first within the page.
func (h *ConversationsHandler) ListMessages(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	before, err := beforeParam(c)
	if err != nil {
		return err
	}
	items, err := h.messages.ListBefore(c.Request().Context(), identity.TenantID, c.Param("id"), before, limitParam(c))
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	if items == nil {
		items = []message.Message{}
	}
	return c.JSON(http.StatusOK, messageListResponse{Items: items})
}

type replyRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// Reply appends an agent message. Realtime fan-out and platform delivery
// both ride the message.created event.
func (h *ConversationsHandler) Reply(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = message.ContentText
	}
	msg, err := h.messages.Append(c.Request().Context(), message.AppendInput{
		TenantID:       identity.TenantID,
		ConversationID: c.Param("id"),
		SenderType:     message.SenderAgent,
		SenderID:       identity.AgentID,
		Content:        req.Content,
		ContentType:    contentType,
	})
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusCreated, msg)
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

// Assign sets the assignee. An empty agent_id assigns to the caller.
func (h *ConversationsHandler) Assign(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = identity.AgentID
	}
	conv, err := h.conversations.Assign(c.Request().Context(), identity.TenantID, c.Param("id"), agentID)
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) Resolve(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.ResolveStatus(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) Reopen(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Reopen(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusOK, conv)
}

type markReadRequest struct {
	MessageID string `json:"message_id"`
}

// MarkRead advances contact messages through the given message to read.
func (h *ConversationsHandler) MarkRead(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.MessageID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message_id is required")
	}
	if err := h.messages.MarkRead(c.Request().Context(), identity.TenantID, c.Param("id"), req.MessageID); err != nil {
		return domainError(err, conversation.ErrConversationNotFound, message.ErrMessageNotFound)
	}
	return c.NoContent(http.StatusNoContent)
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

func (h *ConversationsHandler) SetPriority(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var req priorityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.conversations.SetPriority(c.Request().Context(), identity.TenantID, c.Param("id"), req.Priority)
	if err != nil {
		if strings.Contains(err.Error(), "unknown priority") {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusOK, conv)
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (h *ConversationsHandler) AddTag(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var req tagRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Tag) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tag is required")
	}
	conv, err := h.conversations.AddTag(c.Request().Context(), identity.TenantID, c.Param("id"), req.Tag)
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) RemoveTag(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.RemoveTag(c.Request().Context(), identity.TenantID, c.Param("id"), c.Param("tag"))
	if err != nil {
		return domainError(err, conversation.ErrConversationNotFound)
	}
	return c.JSON(http.StatusOK, conv)
}
