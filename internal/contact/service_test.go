package contact_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/contact"
)

// fakeStore is an in-memory contact.Store.
type fakeStore struct {
	contacts []contact.Contact
	nextID   int
	touched  []string
}

func (f *fakeStore) Get(ctx context.Context, tenantID, contactID string) (contact.Contact, error) {
	for _, c := range f.contacts {
		if c.TenantID == tenantID && c.ID == contactID {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (f *fakeStore) FindByExternalID(ctx context.Context, tenantID, externalID string) (contact.Contact, error) {
	for _, c := range f.contacts {
		if c.TenantID == tenantID && c.ExternalID == externalID && externalID != "" {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (f *fakeStore) FindByEmail(ctx context.Context, tenantID, email string) (contact.Contact, error) {
	for _, c := range f.contacts {
		if c.TenantID == tenantID && c.Email == email && email != "" {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (f *fakeStore) FindByPhone(ctx context.Context, tenantID, phone string) (contact.Contact, error) {
	for _, c := range f.contacts {
		if c.TenantID == tenantID && c.Phone == phone && phone != "" {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (f *fakeStore) Create(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	f.nextID++
	c.ID = string(rune('a' + f.nextID - 1))
	f.contacts = append(f.contacts, c)
	return c, nil
}

func (f *fakeStore) Update(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	for i := range f.contacts {
		if f.contacts[i].ID == c.ID {
			f.contacts[i] = c
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (f *fakeStore) TouchLastSeen(ctx context.Context, tenantID, contactID string) error {
	f.touched = append(f.touched, contactID)
	return nil
}

func TestResolveCreatesWhenAbsent(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	svc := contact.NewService(nil, store)

	c, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{
		DisplayName: "Maria",
		Phone:       "5511999",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", c.TenantID)
	assert.Equal(t, "Maria", c.DisplayName)
	assert.Equal(t, "5511999", c.Phone)
	assert.Len(t, store.contacts, 1)
}

func TestResolveMatchesEmailBeforePhone(t *testing.T) {
	t.Parallel()
	store := &fakeStore{contacts: []contact.Contact{
		{ID: "by-phone", TenantID: "t1", Phone: "5511999"},
		{ID: "by-email", TenantID: "t1", Email: "maria@example.com", Phone: "other"},
	}}
	svc := contact.NewService(nil, store)

	c, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{
		Email: "Maria@Example.com",
		Phone: "5511999",
	})
	require.NoError(t, err)
	assert.Equal(t, "by-email", c.ID)
}

func TestResolveBackfillsWithoutOverwriting(t *testing.T) {
	t.Parallel()
	store := &fakeStore{contacts: []contact.Contact{
		{ID: "c1", TenantID: "t1", DisplayName: "Maria Silva", Email: "maria@example.com"},
	}}
	svc := contact.NewService(nil, store)

	c, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{
		DisplayName: "maria",
		Email:       "maria@example.com",
		Phone:       "5511999",
	})
	require.NoError(t, err)
	// Populated name kept, missing phone filled in.
	assert.Equal(t, "Maria Silva", c.DisplayName)
	assert.Equal(t, "5511999", c.Phone)
	assert.Equal(t, []string{"c1"}, store.touched)
}

func TestResolveMatchesExternalIDFirst(t *testing.T) {
	t.Parallel()
	store := &fakeStore{contacts: []contact.Contact{
		{ID: "by-email", TenantID: "t1", Email: "maria@example.com"},
		{ID: "by-external", TenantID: "t1", ExternalID: "ch-1:42", Email: "old@example.com"},
	}}
	svc := contact.NewService(nil, store)

	c, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{
		ExternalID: "ch-1:42",
		Email:      "maria@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "by-external", c.ID)
}

func TestResolveCreatesFromExternalIDOnly(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	svc := contact.NewService(nil, store)

	c, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{
		DisplayName: "Telegram user 42",
		ExternalID:  "ch-1:42",
	})
	require.NoError(t, err)
	assert.Equal(t, "ch-1:42", c.ExternalID)
	assert.Empty(t, c.Email)
}

func TestResolveIsTenantScoped(t *testing.T) {
	t.Parallel()
	store := &fakeStore{contacts: []contact.Contact{
		{ID: "c1", TenantID: "other-tenant", Phone: "5511999"},
	}}
	svc := contact.NewService(nil, store)

	c, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{Phone: "5511999"})
	require.NoError(t, err)
	assert.NotEqual(t, "c1", c.ID, "must not match a contact from another tenant")
	assert.Equal(t, "t1", c.TenantID)
}

func TestResolveRejectsEmptyHint(t *testing.T) {
	t.Parallel()
	svc := contact.NewService(nil, &fakeStore{})
	_, err := svc.Resolve(context.Background(), "t1", contact.IdentityHint{DisplayName: "nameless"})
	assert.Error(t, err)
}

func TestMergeMetadataKeepsExistingKeys(t *testing.T) {
	t.Parallel()
	store := &fakeStore{contacts: []contact.Contact{
		{ID: "c1", TenantID: "t1", Metadata: map[string]any{"country": "Brazil"}},
	}}
	svc := contact.NewService(nil, store)

	err := svc.MergeMetadata(context.Background(), "t1", "c1", map[string]any{
		"country": "Argentina",
		"city":    "Buenos Aires",
	})
	require.NoError(t, err)

	c, err := svc.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Brazil", c.Metadata["country"], "existing metadata wins")
	assert.Equal(t, "Buenos Aires", c.Metadata["city"])
}
