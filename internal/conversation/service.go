package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/chatlinehq/chatline/internal/event"
)

var (
	// ErrConversationNotFound indicates the conversation does not exist for
	// the caller's tenant.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrDuplicateOpen is returned by Store.Create when an open conversation
	// already exists for the session key (unique index violation).
	ErrDuplicateOpen = errors.New("open conversation already exists")
)

// Store is the persistence interface for conversation rows.
type Store interface {
	Get(ctx context.Context, tenantID, conversationID string) (Conversation, error)
	FindOpenBySession(ctx context.Context, tenantID, contactID, sessionKey string) (Conversation, error)
	Create(ctx context.Context, c Conversation) (Conversation, error)
	SetAssignee(ctx context.Context, tenantID, conversationID, agentID string) (Conversation, error)
	SetStatus(ctx context.Context, tenantID, conversationID, status string, clearAssignee bool) (Conversation, error)
	SetPriority(ctx context.Context, tenantID, conversationID, priority string) (Conversation, error)
	SetTags(ctx context.Context, tenantID, conversationID string, tags []string) (Conversation, error)
	List(ctx context.Context, tenantID string, q ListQuery) ([]Conversation, error)
}

// Service implements the resolver and the state machine. Every mutation
// commits through the store first and emits its event only afterwards, so an
// event is never published for a transition that did not durably commit.
type Service struct {
	store  Store
	bus    event.Publisher
	locks  *keyedMutex
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, store Store, bus event.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		bus:    bus,
		locks:  newKeyedMutex(),
		logger: log.With(slog.String("service", "conversation")),
	}
}

// Get returns a conversation scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	return s.store.Get(ctx, tenantID, conversationID)
}

// List returns a filtered page of conversations.
func (s *Service) List(ctx context.Context, tenantID string, q ListQuery) ([]Conversation, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 25
	}
	if q.Filter == "" {
		q.Filter = FilterAll
	}
	if q.Filter == FilterMine && strings.TrimSpace(q.AgentID) == "" {
		return nil, fmt.Errorf("agent id is required for the mine filter")
	}
	return s.store.List(ctx, tenantID, q)
}

// Resolve returns the open conversation for (contact, sessionKey), creating
// one when none exists. Creation is serialized per key, and a lost race
// against the partial unique index is resolved by re-reading.
func (s *Service) Resolve(ctx context.Context, tenantID, contactID, sessionKey, channelType string) (Conversation, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return Conversation{}, fmt.Errorf("session key is required")
	}
	unlock := s.locks.Lock(tenantID + "|" + contactID + "|" + sessionKey)
	defer unlock()

	existing, err := s.store.FindOpenBySession(ctx, tenantID, contactID, sessionKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return Conversation{}, err
	}

	created, err := s.store.Create(ctx, Conversation{
		TenantID:   tenantID,
		ContactID:  contactID,
		SessionKey: sessionKey,
		Channel:    channelType,
		Status:     StatusOpen,
		Priority:   PriorityNormal,
		IsRead:     true,
	})
	if errors.Is(err, ErrDuplicateOpen) {
		// Another writer beat us between read and insert; reuse its row.
		return s.store.FindOpenBySession(ctx, tenantID, contactID, sessionKey)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Info("conversation created",
		slog.String("tenant_id", tenantID),
		slog.String("conversation_id", created.ID),
		slog.String("channel", channelType))
	s.publish(ctx, event.Event{
		Type:     event.TypeConversationCreated,
		TenantID: tenantID,
		Payload: event.ConversationCreated{
			ConversationID: created.ID,
			ContactID:      contactID,
			Channel:        channelType,
			SessionKey:     sessionKey,
		},
	})
	s.publish(ctx, event.Event{
		Type:     event.TypeAutomationTrigger,
		TenantID: tenantID,
		Payload: event.AutomationTrigger{
			TriggerType: "conversation_created",
			Context: map[string]any{
				"conversation": map[string]any{
					"id":       created.ID,
					"channel":  created.Channel,
					"status":   created.Status,
					"priority": created.Priority,
				},
				"contact": map[string]any{
					"id": contactID,
				},
			},
		},
	})
	return created, nil
}

// Assign sets the assigned agent. Permitted from any status.
func (s *Service) Assign(ctx context.Context, tenantID, conversationID, agentID string) (Conversation, error) {
	if strings.TrimSpace(agentID) == "" {
		return Conversation{}, fmt.Errorf("agent id is required")
	}
	updated, err := s.store.SetAssignee(ctx, tenantID, conversationID, agentID)
	if err != nil {
		return Conversation{}, err
	}
	s.publish(ctx, event.Event{
		Type:     event.TypeConversationAssigned,
		TenantID: tenantID,
		Payload:  event.ConversationAssigned{ConversationID: conversationID, AgentID: agentID},
	})
	return updated, nil
}

// ResolveStatus marks the conversation resolved and clears the assignee.
func (s *Service) ResolveStatus(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	return s.transition(ctx, tenantID, conversationID, StatusResolved, true)
}

// Reopen marks the conversation open again. The assignee stays empty so the
// conversation goes back to triage, not to its previous owner.
func (s *Service) Reopen(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	return s.transition(ctx, tenantID, conversationID, StatusOpen, false)
}

func (s *Service) transition(ctx context.Context, tenantID, conversationID, status string, clearAssignee bool) (Conversation, error) {
	updated, err := s.store.SetStatus(ctx, tenantID, conversationID, status, clearAssignee)
	if err != nil {
		return Conversation{}, err
	}
	s.publish(ctx, event.Event{
		Type:     event.TypeConversationStatus,
		TenantID: tenantID,
		Payload:  event.ConversationStatus{ConversationID: conversationID, Status: status},
	})
	return updated, nil
}

// SetPriority updates the priority field.
func (s *Service) SetPriority(ctx context.Context, tenantID, conversationID, priority string) (Conversation, error) {
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return Conversation{}, fmt.Errorf("unknown priority %q", priority)
	}
	return s.store.SetPriority(ctx, tenantID, conversationID, priority)
}

// AddTag adds a tag to the conversation's tag set.
func (s *Service) AddTag(ctx context.Context, tenantID, conversationID, tag string) (Conversation, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Conversation{}, fmt.Errorf("tag is required")
	}
	current, err := s.store.Get(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if slices.Contains(current.Tags, tag) {
		return current, nil
	}
	return s.store.SetTags(ctx, tenantID, conversationID, append(current.Tags, tag))
}

// RemoveTag removes a tag from the conversation's tag set.
func (s *Service) RemoveTag(ctx context.Context, tenantID, conversationID, tag string) (Conversation, error) {
	current, err := s.store.Get(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	idx := slices.Index(current.Tags, tag)
	if idx < 0 {
		return current, nil
	}
	return s.store.SetTags(ctx, tenantID, conversationID, slices.Delete(current.Tags, idx, idx+1))
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, evt)
}
