// Package tenant provides tenant-scoped channel lookups used by the pipeline.
// Tenant administration itself is ordinary CRUD and lives outside the core.
package tenant

import "time"

// Channel status values reported by session-based adapters.
const (
	StatusConnecting   = "connecting"
	StatusAwaitingScan = "awaiting_scan"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Channel is one configured messaging surface for a tenant.
type Channel struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Type         string         `json:"type"`
	WidgetKey    string         `json:"widget_key,omitempty"`
	Status       string         `json:"status"`
	StatusDetail string         `json:"status_detail,omitempty"`
	Credentials  map[string]any `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
