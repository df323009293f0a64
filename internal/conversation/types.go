// Package conversation owns conversation rows: the find-or-create resolver
// and the status/assignment state machine. It is the sole writer of status,
// assignment, and priority fields.
package conversation

import "time"

// Conversation status values. A reopened conversation is simply open again.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// Priority values.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// List filters.
const (
	FilterAll        = "all"
	FilterUnread     = "unread"
	FilterUnassigned = "unassigned"
	FilterMine       = "mine"
	FilterResolved   = "resolved"
)

// Conversation is one contact interaction thread within a tenant.
type Conversation struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	ContactID          string     `json:"contact_id"`
	SessionKey         string     `json:"session_key"`
	Channel            string     `json:"channel"`
	Status             string     `json:"status"`
	AssignedAgentID    string     `json:"assigned_agent_id,omitempty"`
	Priority           string     `json:"priority"`
	UnreadCount        int        `json:"unread_count"`
	IsRead             bool       `json:"is_read"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	Tags               []string   `json:"tags"`
	SLADueAt           *time.Time `json:"sla_due_at,omitempty"`
	CSATScore          *int       `json:"csat_score,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ListQuery selects a page of conversations ordered by last_message_at
// descending. Before is an exclusive cursor; AgentID is required for the
// "mine" filter.
type ListQuery struct {
	Filter  string
	AgentID string
	Before  *time.Time
	Limit   int
}
