// Package automation evaluates tenant-defined rules against domain events
// and executes their actions through pluggable executors.
package automation

import "time"

// Trigger names the event class a rule listens for.
const (
	TriggerConversationCreated = "conversation_created"
	TriggerMessageCreated      = "message_created"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// Condition combinators.
const (
	CombineAnd = "AND"
	CombineOr  = "OR"
)

// Action types.
const (
	ActionAddTag              = "add_tag"
	ActionAssignAgent         = "assign_agent"
	ActionResolveConversation = "resolve_conversation"
	ActionSendMessage         = "send_message"
	ActionSetPriority         = "set_priority"
)

// Run log outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Condition is one predicate over the trigger context. Field is a
// dot-separated path; a missing path evaluates as undefined.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Action is one step of a rule's action list. DelaySeconds is a scheduling
// hint for the executor; rule bookkeeping happens at dispatch time either way.
type Action struct {
	Type         string         `json:"type"`
	Params       map[string]any `json:"params,omitempty"`
	DelaySeconds int            `json:"delay_seconds,omitempty"`
}

// Rule is one tenant-defined automation rule.
type Rule struct {
	ID                 string      `json:"id"`
	TenantID           string      `json:"tenant_id"`
	Name               string      `json:"name"`
	Trigger            string      `json:"trigger"`
	Conditions         []Condition `json:"conditions"`
	ConditionsOperator string      `json:"conditions_operator"`
	Actions            []Action    `json:"actions"`
	IsActive           bool        `json:"is_active"`
	RunCount           int64       `json:"run_count"`
	LastRunAt          *time.Time  `json:"last_run_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// RunLog is one append-only record of a rule firing.
type RunLog struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	TenantID  string    `json:"tenant_id"`
	Outcome   string    `json:"outcome"`
	Actions   []Action  `json:"actions"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func validTrigger(t string) bool {
	return t == TriggerConversationCreated || t == TriggerMessageCreated
}

func validOperator(op string) bool {
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith,
		OpIsEmpty, OpIsNotEmpty, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

func validActionType(t string) bool {
	switch t {
	case ActionAddTag, ActionAssignAgent, ActionResolveConversation,
		ActionSendMessage, ActionSetPriority:
		return true
	}
	return false
}
