package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrContactNotFound indicates no contact matched the lookup.
var ErrContactNotFound = errors.New("contact not found")

// Store is the persistence interface the resolver needs.
type Store interface {
	Get(ctx context.Context, tenantID, contactID string) (Contact, error)
	FindByExternalID(ctx context.Context, tenantID, externalID string) (Contact, error)
	FindByEmail(ctx context.Context, tenantID, email string) (Contact, error)
	FindByPhone(ctx context.Context, tenantID, phone string) (Contact, error)
	Create(ctx context.Context, c Contact) (Contact, error)
	Update(ctx context.Context, c Contact) (Contact, error)
	TouchLastSeen(ctx context.Context, tenantID, contactID string) error
}

// Service finds or creates contacts for inbound identities.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a contact resolver.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, logger: log.With(slog.String("service", "contact"))}
}

// Get fetches one contact scoped to a tenant.
func (s *Service) Get(ctx context.Context, tenantID, contactID string) (Contact, error) {
	return s.store.Get(ctx, tenantID, contactID)
}

// MergeMetadata merges keys into the contact's metadata without overwriting
// values already present. Used for best-effort enrichment such as widget
// geolocation.
func (s *Service) MergeMetadata(ctx context.Context, tenantID, contactID string, meta map[string]any) error {
	if len(meta) == 0 {
		return nil
	}
	c, err := s.store.Get(ctx, tenantID, contactID)
	if err != nil {
		return err
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	changed := false
	for k, v := range meta {
		if _, exists := c.Metadata[k]; exists {
			continue
		}
		c.Metadata[k] = v
		changed = true
	}
	if !changed {
		return nil
	}
	_, err = s.store.Update(ctx, c)
	return err
}

// Resolve matches by external id first, then email, then phone. A match
// backfills missing optional fields without overwriting populated ones and
// refreshes last-seen; no match creates a new contact.
func (s *Service) Resolve(ctx context.Context, tenantID string, hint IdentityHint) (Contact, error) {
	hint.Email = strings.ToLower(strings.TrimSpace(hint.Email))
	hint.Phone = strings.TrimSpace(hint.Phone)
	hint.DisplayName = strings.TrimSpace(hint.DisplayName)
	hint.ExternalID = strings.TrimSpace(hint.ExternalID)
	if hint.Email == "" && hint.Phone == "" && hint.ExternalID == "" {
		return Contact{}, fmt.Errorf("identity hint needs an external id, email, or phone")
	}

	existing, err := s.lookup(ctx, tenantID, hint)
	switch {
	case err == nil:
		return s.refresh(ctx, existing, hint)
	case errors.Is(err, ErrContactNotFound):
		created, err := s.store.Create(ctx, Contact{
			TenantID:    tenantID,
			DisplayName: hint.DisplayName,
			Email:       hint.Email,
			Phone:       hint.Phone,
			ExternalID:  hint.ExternalID,
		})
		if err != nil {
			return Contact{}, fmt.Errorf("create contact: %w", err)
		}
		s.logger.Info("contact created",
			slog.String("tenant_id", tenantID),
			slog.String("contact_id", created.ID))
		return created, nil
	default:
		return Contact{}, err
	}
}

func (s *Service) lookup(ctx context.Context, tenantID string, hint IdentityHint) (Contact, error) {
	if hint.ExternalID != "" {
		c, err := s.store.FindByExternalID(ctx, tenantID, hint.ExternalID)
		if err == nil || !errors.Is(err, ErrContactNotFound) {
			return c, err
		}
	}
	if hint.Email != "" {
		c, err := s.store.FindByEmail(ctx, tenantID, hint.Email)
		if err == nil || !errors.Is(err, ErrContactNotFound) {
			return c, err
		}
	}
	if hint.Phone != "" {
		return s.store.FindByPhone(ctx, tenantID, hint.Phone)
	}
	return Contact{}, ErrContactNotFound
}

// refresh backfills empty fields from the hint and bumps last-seen. Existing
// values always win over hint values.
func (s *Service) refresh(ctx context.Context, existing Contact, hint IdentityHint) (Contact, error) {
	changed := false
	if existing.DisplayName == "" && hint.DisplayName != "" {
		existing.DisplayName = hint.DisplayName
		changed = true
	}
	if existing.Email == "" && hint.Email != "" {
		existing.Email = hint.Email
		changed = true
	}
	if existing.Phone == "" && hint.Phone != "" {
		existing.Phone = hint.Phone
		changed = true
	}
	if existing.ExternalID == "" && hint.ExternalID != "" {
		existing.ExternalID = hint.ExternalID
		changed = true
	}
	if changed {
		updated, err := s.store.Update(ctx, existing)
		if err != nil {
			return Contact{}, fmt.Errorf("backfill contact: %w", err)
		}
		existing = updated
	}
	if err := s.store.TouchLastSeen(ctx, existing.TenantID, existing.ID); err != nil {
		s.logger.Warn("touch contact failed", slog.String("contact_id", existing.ID), slog.Any("error", err))
	}
	return existing, nil
}
