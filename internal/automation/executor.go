package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/message"
)

// ConversationMutator is the slice of the conversation service actions need.
type ConversationMutator interface {
	AddTag(ctx context.Context, tenantID, conversationID, tag string) (conversation.Conversation, error)
	Assign(ctx context.Context, tenantID, conversationID, agentID string) (conversation.Conversation, error)
	ResolveStatus(ctx context.Context, tenantID, conversationID string) (conversation.Conversation, error)
	SetPriority(ctx context.Context, tenantID, conversationID, priority string) (conversation.Conversation, error)
}

// MessageAppender is the slice of the message service actions need.
type MessageAppender interface {
	Append(ctx context.Context, input message.AppendInput) (message.Message, error)
}

// ServiceExecutor executes rule actions against the conversation and message
// services. The target conversation comes from the trigger context.
type ServiceExecutor struct {
	conversations ConversationMutator
	messages      MessageAppender
}

// NewServiceExecutor creates the default action executor.
func NewServiceExecutor(conversations ConversationMutator, messages MessageAppender) *ServiceExecutor {
	return &ServiceExecutor{conversations: conversations, messages: messages}
}

// Execute performs one action. Unknown action types and missing params fail
// the action, which fails the rule run.
func (x *ServiceExecutor) Execute(ctx context.Context, tenantID string, action Action, trigCtx map[string]any) error {
	conversationID := contextString(trigCtx, "conversation.id")
	if conversationID == "" {
		return fmt.Errorf("trigger context has no conversation id")
	}

	switch action.Type {
	case ActionAddTag:
		tag := paramString(action, "tag")
		if tag == "" {
			return fmt.Errorf("add_tag: tag param is required")
		}
		_, err := x.conversations.AddTag(ctx, tenantID, conversationID, tag)
		return err
	case ActionAssignAgent:
		agentID := paramString(action, "agent_id")
		if agentID == "" {
			return fmt.Errorf("assign_agent: agent_id param is required")
		}
		_, err := x.conversations.Assign(ctx, tenantID, conversationID, agentID)
		return err
	case ActionResolveConversation:
		_, err := x.conversations.ResolveStatus(ctx, tenantID, conversationID)
		return err
	case ActionSetPriority:
		priority := paramString(action, "priority")
		if priority == "" {
			return fmt.Errorf("set_priority: priority param is required")
		}
		_, err := x.conversations.SetPriority(ctx, tenantID, conversationID, priority)
		return err
	case ActionSendMessage:
		content := paramString(action, "content")
		if content == "" {
			return fmt.Errorf("send_message: content param is required")
		}
		_, err := x.messages.Append(ctx, message.AppendInput{
			TenantID:       tenantID,
			ConversationID: conversationID,
			SenderType:     message.SenderSystem,
			Content:        content,
			ContentType:    "text",
		})
		return err
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func contextString(trigCtx map[string]any, path string) string {
	v, found := lookup(trigCtx, path)
	if !found {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

func paramString(action Action, key string) string {
	v, ok := action.Params[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}
