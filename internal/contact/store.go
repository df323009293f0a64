package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlinehq/chatline/internal/db"
)

// PGStore is the Postgres-backed contact store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a contact store on the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const contactSelect = `SELECT id, tenant_id, display_name, email, phone, external_id, metadata, last_seen_at, created_at FROM contacts`

// Get returns one contact scoped to a tenant.
func (s *PGStore) Get(ctx context.Context, tenantID, contactID string) (Contact, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}
	cid, err := db.ParseUUID(contactID)
	if err != nil {
		return Contact{}, err
	}
	return scanContact(s.pool.QueryRow(ctx,
		contactSelect+` WHERE id = $1 AND tenant_id = $2`, cid, tid))
}

// FindByExternalID returns the contact with the given platform contact id
// within a tenant.
func (s *PGStore) FindByExternalID(ctx context.Context, tenantID, externalID string) (Contact, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}
	return scanContact(s.pool.QueryRow(ctx,
		contactSelect+` WHERE tenant_id = $1 AND external_id = $2`, tid, externalID))
}

// FindByEmail returns the contact with the given email within a tenant.
func (s *PGStore) FindByEmail(ctx context.Context, tenantID, email string) (Contact, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}
	return scanContact(s.pool.QueryRow(ctx,
		contactSelect+` WHERE tenant_id = $1 AND lower(email) = lower($2)`, tid, email))
}

// FindByPhone returns the contact with the given phone within a tenant.
func (s *PGStore) FindByPhone(ctx context.Context, tenantID, phone string) (Contact, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}
	return scanContact(s.pool.QueryRow(ctx,
		contactSelect+` WHERE tenant_id = $1 AND phone = $2`, tid, phone))
}

// Create inserts a new contact.
func (s *PGStore) Create(ctx context.Context, c Contact) (Contact, error) {
	tid, err := db.ParseUUID(c.TenantID)
	if err != nil {
		return Contact{}, err
	}
	meta, err := json.Marshal(nonNilMap(c.Metadata))
	if err != nil {
		return Contact{}, fmt.Errorf("marshal contact metadata: %w", err)
	}
	return scanContact(s.pool.QueryRow(ctx,
		`INSERT INTO contacts (tenant_id, display_name, email, phone, external_id, metadata, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 RETURNING id, tenant_id, display_name, email, phone, external_id, metadata, last_seen_at, created_at`,
		tid, c.DisplayName, db.Text(c.Email), db.Text(c.Phone), db.Text(c.ExternalID), meta))
}

// Update writes mutable contact fields.
func (s *PGStore) Update(ctx context.Context, c Contact) (Contact, error) {
	tid, err := db.ParseUUID(c.TenantID)
	if err != nil {
		return Contact{}, err
	}
	cid, err := db.ParseUUID(c.ID)
	if err != nil {
		return Contact{}, err
	}
	meta, err := json.Marshal(nonNilMap(c.Metadata))
	if err != nil {
		return Contact{}, fmt.Errorf("marshal contact metadata: %w", err)
	}
	return scanContact(s.pool.QueryRow(ctx,
		`UPDATE contacts
		 SET display_name = $3, email = $4, phone = $5, external_id = $6, metadata = $7, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING id, tenant_id, display_name, email, phone, external_id, metadata, last_seen_at, created_at`,
		cid, tid, c.DisplayName, db.Text(c.Email), db.Text(c.Phone), db.Text(c.ExternalID), meta))
}

// TouchLastSeen refreshes the last-seen timestamp.
func (s *PGStore) TouchLastSeen(ctx context.Context, tenantID, contactID string) error {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return err
	}
	cid, err := db.ParseUUID(contactID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE contacts SET last_seen_at = now() WHERE id = $1 AND tenant_id = $2`, cid, tid)
	return err
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		c              Contact
		pgID, pgTenant pgtype.UUID
		email, phone   pgtype.Text
		externalID     pgtype.Text
		meta           []byte
		lastSeen       pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
	)
	err := row.Scan(&pgID, &pgTenant, &c.DisplayName, &email, &phone, &externalID, &meta, &lastSeen, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	c.ID = db.UUIDString(pgID)
	c.TenantID = db.UUIDString(pgTenant)
	c.Email = db.TextString(email)
	c.Phone = db.TextString(phone)
	c.ExternalID = db.TextString(externalID)
	c.LastSeenAt = db.TimePtr(lastSeen)
	c.CreatedAt = db.TimeValue(createdAt)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.Metadata)
	}
	return c, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
