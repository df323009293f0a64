// Package contact resolves inbound identities to tenant-scoped contacts.
package contact

import "time"

// Contact is an external party within one tenant, identified by email or
// phone on a first-write-wins basis. ExternalID carries the platform contact
// id for channels that expose neither, e.g. a Telegram chat id.
type Contact struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastSeenAt  *time.Time     `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IdentityHint carries whatever identity the channel adapter extracted from
// an inbound payload. Email wins over phone when both are present; the
// external id is matched first since it is the most specific.
type IdentityHint struct {
	DisplayName string
	Email       string
	Phone       string
	ExternalID  string
}
