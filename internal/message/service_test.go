package message_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/event"
	"github.com/chatlinehq/chatline/internal/message"
)

// fakeStore is an in-memory message.Store that mirrors the transactional
// conversation denorm update.
type fakeStore struct {
	mu            sync.Mutex
	messages      []message.Message
	conversations map[string]*conversation.Conversation
	nextID        int
}

func newFakeStore(convs ...*conversation.Conversation) *fakeStore {
	f := &fakeStore{conversations: map[string]*conversation.Conversation{}}
	for _, c := range convs {
		f.conversations[c.ID] = c
	}
	return f
}

func (f *fakeStore) Insert(ctx context.Context, m message.Message, preview string, bumpUnread bool) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = fmt.Sprintf("msg-%d", f.nextID)
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)

	conv := f.conversations[m.ConversationID]
	at := m.CreatedAt
	conv.LastMessageAt = &at
	conv.LastMessagePreview = preview
	if bumpUnread {
		conv.UnreadCount++
		conv.IsRead = false
	}
	return m, nil
}

func (f *fakeStore) AdvanceRead(ctx context.Context, tenantID, conversationID, throughMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var through time.Time
	found := false
	for _, m := range f.messages {
		if m.ID == throughMessageID && m.ConversationID == conversationID && m.TenantID == tenantID {
			through = m.CreatedAt
			found = true
		}
	}
	if !found {
		return message.ErrMessageNotFound
	}
	unread := 0
	for i := range f.messages {
		m := &f.messages[i]
		if m.ConversationID != conversationID || m.SenderType != message.SenderContact {
			continue
		}
		if m.Status != message.StatusRead && !m.CreatedAt.After(through) {
			m.Status = message.StatusRead
			now := time.Now()
			m.ReadAt = &now
		}
		if m.Status != message.StatusRead {
			unread++
		}
	}
	conv := f.conversations[conversationID]
	conv.UnreadCount = unread
	conv.IsRead = unread == 0
	return nil
}

func (f *fakeStore) ListBefore(ctx context.Context, tenantID, conversationID string, before *time.Time, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if m.ConversationID != conversationID || m.TenantID != tenantID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// fakeConvReader serves conversations from the same map the store mutates.
type fakeConvReader struct{ store *fakeStore }

func (r fakeConvReader) Get(ctx context.Context, tenantID, conversationID string) (conversation.Conversation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.conversations[conversationID]
	if !ok || c.TenantID != tenantID {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	return *c, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(ctx context.Context, evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func openConversation(id string) *conversation.Conversation {
	return &conversation.Conversation{
		ID:         id,
		TenantID:   "t1",
		ContactID:  "c1",
		SessionKey: "sess-1",
		Channel:    "widget",
		Status:     conversation.StatusOpen,
		IsRead:     true,
	}
}

func newService(store *fakeStore, bus event.Publisher) *message.Service {
	return message.NewService(nil, store, fakeConvReader{store: store}, bus)
}

func TestAppendContactMessageBumpsUnread(t *testing.T) {
	t.Parallel()
	conv := openConversation("conv-1")
	store := newFakeStore(conv)
	bus := &recordingBus{}
	svc := newService(store, bus)

	saved, err := svc.Append(context.Background(), message.AppendInput{
		TenantID:       "t1",
		ConversationID: "conv-1",
		SenderType:     message.SenderContact,
		Content:        "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, saved.Status)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.False(t, conv.IsRead)
	assert.Equal(t, "hi", conv.LastMessagePreview)
	require.NotNil(t, conv.LastMessageAt)

	require.Len(t, bus.events, 2)
	assert.Equal(t, event.TypeMessageCreated, bus.events[0].Type)
	payload := bus.events[0].Payload.(event.MessageCreated)
	assert.Equal(t, saved.ID, payload.MessageID)
	assert.Equal(t, "conv-1", payload.ConversationID)
	assert.Equal(t, "c1", payload.ContactID)
	assert.Equal(t, event.TypeAutomationTrigger, bus.events[1].Type)
}

func TestAppendAgentMessageLeavesUnreadAlone(t *testing.T) {
	t.Parallel()
	conv := openConversation("conv-1")
	store := newFakeStore(conv)
	svc := newService(store, &recordingBus{})

	_, err := svc.Append(context.Background(), message.AppendInput{
		TenantID:       "t1",
		ConversationID: "conv-1",
		SenderType:     message.SenderAgent,
		SenderID:       "agent-1",
		Content:        "hello, how can I help?",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.True(t, conv.IsRead)
	assert.Equal(t, "hello, how can I help?", conv.LastMessagePreview)
}

func TestAppendTruncatesPreviewTo200Runes(t *testing.T) {
	t.Parallel()
	conv := openConversation("conv-1")
	store := newFakeStore(conv)
	svc := newService(store, &recordingBus{})

	long := strings.Repeat("é", 300)
	_, err := svc.Append(context.Background(), message.AppendInput{
		TenantID:       "t1",
		ConversationID: "conv-1",
		SenderType:     message.SenderContact,
		Content:        long,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, len([]rune(conv.LastMessagePreview)))
}

func TestAppendRejectsForeignTenant(t *testing.T) {
	t.Parallel()
	store := newFakeStore(openConversation("conv-1"))
	svc := newService(store, &recordingBus{})

	_, err := svc.Append(context.Background(), message.AppendInput{
		TenantID:       "t2",
		ConversationID: "conv-1",
		SenderType:     message.SenderContact,
		Content:        "hi",
	})
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
	assert.Empty(t, store.messages)
}

func TestMarkReadIsIdempotentAndSkipsAgentMessages(t *testing.T) {
	t.Parallel()
	conv := openConversation("conv-1")
	store := newFakeStore(conv)
	svc := newService(store, &recordingBus{})
	ctx := context.Background()

	var last message.Message
	for i := 0; i < 3; i++ {
		var err error
		last, err = svc.Append(ctx, message.AppendInput{
			TenantID: "t1", ConversationID: "conv-1",
			SenderType: message.SenderContact, Content: fmt.Sprintf("contact %d", i),
		})
		require.NoError(t, err)
	}
	agentMsg, err := svc.Append(ctx, message.AppendInput{
		TenantID: "t1", ConversationID: "conv-1",
		SenderType: message.SenderAgent, SenderID: "agent-1", Content: "reply",
	})
	require.NoError(t, err)
	require.Equal(t, 3, conv.UnreadCount)

	require.NoError(t, svc.MarkRead(ctx, "t1", "conv-1", last.ID))
	assert.Equal(t, 0, conv.UnreadCount)
	assert.True(t, conv.IsRead)

	snapshot := make([]message.Message, len(store.messages))
	copy(snapshot, store.messages)

	require.NoError(t, svc.MarkRead(ctx, "t1", "conv-1", last.ID))
	assert.Equal(t, snapshot, store.messages, "second markRead must not change anything")

	for _, m := range store.messages {
		if m.ID == agentMsg.ID {
			assert.Equal(t, message.StatusSent, m.Status, "agent message must not be advanced")
		}
	}
}

func TestListBeforeReturnsOldestFirst(t *testing.T) {
	t.Parallel()
	conv := openConversation("conv-1")
	store := newFakeStore(conv)
	svc := newService(store, &recordingBus{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, message.AppendInput{
			TenantID: "t1", ConversationID: "conv-1",
			SenderType: message.SenderContact, Content: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
	}

	msgs, err := svc.ListBefore(ctx, "t1", "conv-1", nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m0", msgs[0].Content)
	assert.Equal(t, "m2", msgs[2].Content)
}
