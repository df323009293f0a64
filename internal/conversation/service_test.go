package conversation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/event"
)

// fakeStore is an in-memory conversation.Store enforcing the open-session
// unique constraint the way Postgres' partial index does.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[string]*conversation.Conversation
	nextID int
	// createDelay widens the read-create race window for concurrency tests.
	createDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*conversation.Conversation{}}
}

func (f *fakeStore) Get(ctx context.Context, tenantID, id string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	return *c, nil
}

func (f *fakeStore) FindOpenBySession(ctx context.Context, tenantID, contactID, sessionKey string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.TenantID == tenantID && c.ContactID == contactID && c.SessionKey == sessionKey && c.Status == conversation.StatusOpen {
			return *c, nil
		}
	}
	return conversation.Conversation{}, conversation.ErrConversationNotFound
}

func (f *fakeStore) Create(ctx context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	time.Sleep(f.createDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.TenantID == c.TenantID && existing.ContactID == c.ContactID &&
			existing.SessionKey == c.SessionKey && existing.Status == conversation.StatusOpen {
			return conversation.Conversation{}, conversation.ErrDuplicateOpen
		}
	}
	f.nextID++
	c.ID = fmt.Sprintf("conv-%d", f.nextID)
	c.Tags = []string{}
	c.CreatedAt = time.Now()
	f.rows[c.ID] = &c
	return c, nil
}

func (f *fakeStore) SetAssignee(ctx context.Context, tenantID, id, agentID string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	c.AssignedAgentID = agentID
	return *c, nil
}

func (f *fakeStore) SetStatus(ctx context.Context, tenantID, id, status string, clearAssignee bool) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	c.Status = status
	if clearAssignee {
		c.AssignedAgentID = ""
	}
	return *c, nil
}

func (f *fakeStore) SetPriority(ctx context.Context, tenantID, id, priority string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	c.Priority = priority
	return *c, nil
}

func (f *fakeStore) SetTags(ctx context.Context, tenantID, id string, tags []string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	c.Tags = tags
	return *c, nil
}

func (f *fakeStore) List(ctx context.Context, tenantID string, q conversation.ListQuery) ([]conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range f.rows {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) openCount(tenantID, contactID, sessionKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.rows {
		if c.TenantID == tenantID && c.ContactID == contactID && c.SessionKey == sessionKey && c.Status == conversation.StatusOpen {
			n++
		}
	}
	return n
}

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(ctx context.Context, evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBus) types() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Type, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func TestResolveReusesOpenConversation(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bus := &recordingBus{}
	svc := conversation.NewService(nil, store, bus)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)
	second, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// created + automation trigger for the first resolve only
	assert.Equal(t, []event.Type{event.TypeConversationCreated, event.TypeAutomationTrigger}, bus.types())
}

func TestResolveConcurrentCreatesSingleConversation(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.createDelay = 2 * time.Millisecond
	svc := conversation.NewService(nil, store, &recordingBus{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(context.Background(), "t1", "c1", "sess-1", "whatsapp")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.openCount("t1", "c1", "sess-1"))
}

func TestResolveAfterResolveStatusCreatesFresh(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	svc := conversation.NewService(nil, store, &recordingBus{})
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)
	_, err = svc.ResolveStatus(ctx, "t1", first.ID)
	require.NoError(t, err)

	second, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "resolved conversation must not be reused")
}

func TestResolveThenReopenClearsAssignee(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bus := &recordingBus{}
	svc := conversation.NewService(nil, store, bus)
	ctx := context.Background()

	conv, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)
	_, err = svc.Assign(ctx, "t1", conv.ID, "agent-1")
	require.NoError(t, err)

	resolved, err := svc.ResolveStatus(ctx, "t1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusResolved, resolved.Status)
	assert.Empty(t, resolved.AssignedAgentID)

	reopened, err := svc.Reopen(ctx, "t1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusOpen, reopened.Status)
	assert.Empty(t, reopened.AssignedAgentID, "reopen must not restore the previous assignee")

	require.Len(t, bus.events, 5)
	assert.Equal(t, event.TypeConversationStatus, bus.events[3].Type)
	assert.Equal(t, event.ConversationStatus{ConversationID: conv.ID, Status: conversation.StatusResolved}, bus.events[3].Payload)
	assert.Equal(t, event.ConversationStatus{ConversationID: conv.ID, Status: conversation.StatusOpen}, bus.events[4].Payload)
}

func TestTransitionsAreTenantScoped(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	svc := conversation.NewService(nil, store, &recordingBus{})
	ctx := context.Background()

	conv, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)

	_, err = svc.Assign(ctx, "t2", conv.ID, "agent-1")
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
	_, err = svc.ResolveStatus(ctx, "t2", conv.ID)
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestAddRemoveTag(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	svc := conversation.NewService(nil, store, &recordingBus{})
	ctx := context.Background()

	conv, err := svc.Resolve(ctx, "t1", "c1", "sess-1", "widget")
	require.NoError(t, err)

	tagged, err := svc.AddTag(ctx, "t1", conv.ID, "vip")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, tagged.Tags)

	// adding the same tag twice is a no-op
	tagged, err = svc.AddTag(ctx, "t1", conv.ID, "vip")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, tagged.Tags)

	untagged, err := svc.RemoveTag(ctx, "t1", conv.ID, "vip")
	require.NoError(t, err)
	assert.Empty(t, untagged.Tags)
}
