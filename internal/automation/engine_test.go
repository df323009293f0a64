package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/event"
)

type fakeEngineStore struct {
	mu    sync.Mutex
	rules []Rule
	runs  []RunLog
}

func (s *fakeEngineStore) ListActiveByTrigger(_ context.Context, tenantID, trigger string) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Rule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.Trigger == trigger && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeEngineStore) RecordRun(_ context.Context, ruleID, tenantID, outcome string, actions []Action, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, RunLog{RuleID: ruleID, TenantID: tenantID, Outcome: outcome, Actions: actions, Error: errMsg})
	return nil
}

func (s *fakeEngineStore) recorded() []RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunLog, len(s.runs))
	copy(out, s.runs)
	return out
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []Action
	failOn   string
}

func (e *fakeExecutor) Execute(_ context.Context, _ string, action Action, _ map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if action.Type == e.failOn {
		return errors.New("executor rejected action")
	}
	e.executed = append(e.executed, action)
	return nil
}

func (e *fakeExecutor) actions() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, len(e.executed))
	copy(out, e.executed)
	return out
}

func trigger(bus *event.Bus, tenantID, triggerType string, trigCtx map[string]any) {
	bus.Publish(context.Background(), event.Event{
		Type:     event.TypeAutomationTrigger,
		TenantID: tenantID,
		Payload:  event.AutomationTrigger{TriggerType: triggerType, Context: trigCtx},
	})
}

func waitForRuns(t *testing.T, store *fakeEngineStore, n int) []RunLog {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runs := store.recorded(); len(runs) >= n {
			return runs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d recorded runs, got %d", n, len(store.recorded()))
	return nil
}

func TestEngineExecutesMatchingRule(t *testing.T) {
	store := &fakeEngineStore{rules: []Rule{{
		ID:       "rule-1",
		TenantID: "tenant-1",
		Trigger:  TriggerConversationCreated,
		IsActive: true,
		Actions:  []Action{{Type: ActionAddTag, Params: map[string]any{"tag": "new"}}},
	}}}
	exec := &fakeExecutor{}
	engine := NewEngine(nil, store, exec, 16, 1)
	bus := event.NewBus(nil)
	engine.Subscribe(bus)
	engine.Start()
	defer engine.Stop()

	trigger(bus, "tenant-1", TriggerConversationCreated, map[string]any{"conversation": map[string]any{"id": "conv-1"}})

	runs := waitForRuns(t, store, 1)
	assert.Equal(t, "rule-1", runs[0].RuleID)
	assert.Equal(t, OutcomeSuccess, runs[0].Outcome)
	assert.Empty(t, runs[0].Error)
	require.Len(t, exec.actions(), 1)
	assert.Equal(t, ActionAddTag, exec.actions()[0].Type)
}

func TestEngineSkipsNonMatchingRule(t *testing.T) {
	store := &fakeEngineStore{rules: []Rule{{
		ID:       "rule-1",
		TenantID: "tenant-1",
		Trigger:  TriggerMessageCreated,
		IsActive: true,
		Conditions: []Condition{
			{Field: "message.content", Operator: OpContains, Value: "refund"},
		},
		Actions: []Action{{Type: ActionSetPriority, Params: map[string]any{"priority": "high"}}},
	}}}
	exec := &fakeExecutor{}
	engine := NewEngine(nil, store, exec, 16, 1)
	bus := event.NewBus(nil)
	engine.Subscribe(bus)
	engine.Start()

	trigger(bus, "tenant-1", TriggerMessageCreated, map[string]any{
		"message": map[string]any{"content": "hello"},
	})
	engine.Stop()

	assert.Empty(t, store.recorded(), "non-matching rule gets no bookkeeping")
	assert.Empty(t, exec.actions())
}

func TestEngineIsolatesRuleFailure(t *testing.T) {
	store := &fakeEngineStore{rules: []Rule{
		{
			ID:       "rule-bad",
			TenantID: "tenant-1",
			Trigger:  TriggerConversationCreated,
			IsActive: true,
			Actions:  []Action{{Type: ActionAssignAgent, Params: map[string]any{"agent_id": "missing"}}},
		},
		{
			ID:       "rule-good",
			TenantID: "tenant-1",
			Trigger:  TriggerConversationCreated,
			IsActive: true,
			Actions:  []Action{{Type: ActionAddTag, Params: map[string]any{"tag": "new"}}},
		},
	}}
	exec := &fakeExecutor{failOn: ActionAssignAgent}
	engine := NewEngine(nil, store, exec, 16, 1)
	bus := event.NewBus(nil)
	engine.Subscribe(bus)
	engine.Start()

	trigger(bus, "tenant-1", TriggerConversationCreated, map[string]any{})
	engine.Stop()

	runs := store.recorded()
	require.Len(t, runs, 2)

	byRule := map[string]RunLog{}
	for _, r := range runs {
		byRule[r.RuleID] = r
	}
	assert.Equal(t, OutcomeFailed, byRule["rule-bad"].Outcome)
	assert.NotEmpty(t, byRule["rule-bad"].Error)
	assert.Equal(t, OutcomeSuccess, byRule["rule-good"].Outcome)
	require.Len(t, exec.actions(), 1, "failing rule must not block its sibling")
	assert.Equal(t, ActionAddTag, exec.actions()[0].Type)
}

func TestEngineNeverBlocksPublisher(t *testing.T) {
	store := &fakeEngineStore{}
	exec := &fakeExecutor{}
	// Queue of 1 with no workers running: further publishes must drop, not block.
	engine := NewEngine(nil, store, exec, 1, 1)
	bus := event.NewBus(nil)
	engine.Subscribe(bus)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			trigger(bus, "tenant-1", TriggerMessageCreated, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full automation queue")
	}
}

func TestEngineDelayedActionBookkeepingAtDispatch(t *testing.T) {
	store := &fakeEngineStore{rules: []Rule{{
		ID:       "rule-1",
		TenantID: "tenant-1",
		Trigger:  TriggerConversationCreated,
		IsActive: true,
		Actions: []Action{
			{Type: ActionSendMessage, Params: map[string]any{"content": "any agents around?"}, DelaySeconds: 60},
		},
	}}}
	exec := &fakeExecutor{}
	engine := NewEngine(nil, store, exec, 16, 1)
	bus := event.NewBus(nil)
	engine.Subscribe(bus)
	engine.Start()

	trigger(bus, "tenant-1", TriggerConversationCreated, map[string]any{})
	engine.Stop()

	runs := store.recorded()
	require.Len(t, runs, 1, "log row is written at dispatch time")
	assert.Equal(t, OutcomeSuccess, runs[0].Outcome)
	assert.Empty(t, exec.actions(), "delayed action has not fired yet")
}
