package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/auth"
	"github.com/chatlinehq/chatline/internal/contact"
	"github.com/chatlinehq/chatline/internal/tenant"
)

const testJWTSecret = "test-secret"

type memContactStore struct {
	contacts []contact.Contact
	nextID   int
}

func (m *memContactStore) Get(_ context.Context, tenantID, contactID string) (contact.Contact, error) {
	for _, c := range m.contacts {
		if c.TenantID == tenantID && c.ID == contactID {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (m *memContactStore) FindByExternalID(_ context.Context, tenantID, externalID string) (contact.Contact, error) {
	for _, c := range m.contacts {
		if c.TenantID == tenantID && c.ExternalID == externalID && externalID != "" {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (m *memContactStore) FindByEmail(_ context.Context, tenantID, email string) (contact.Contact, error) {
	for _, c := range m.contacts {
		if c.TenantID == tenantID && c.Email == email && email != "" {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (m *memContactStore) FindByPhone(_ context.Context, tenantID, phone string) (contact.Contact, error) {
	for _, c := range m.contacts {
		if c.TenantID == tenantID && c.Phone == phone && phone != "" {
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (m *memContactStore) Create(_ context.Context, c contact.Contact) (contact.Contact, error) {
	m.nextID++
	c.ID = fmt.Sprintf("contact-%d", m.nextID)
	m.contacts = append(m.contacts, c)
	return c, nil
}

func (m *memContactStore) Update(_ context.Context, c contact.Contact) (contact.Contact, error) {
	for i := range m.contacts {
		if m.contacts[i].ID == c.ID {
			m.contacts[i] = c
			return c, nil
		}
	}
	return contact.Contact{}, contact.ErrContactNotFound
}

func (m *memContactStore) TouchLastSeen(context.Context, string, string) error { return nil }

func newWidgetFixture(t *testing.T) (*echo.Echo, *fakeProcessor, *memContactStore) {
	t.Helper()
	e := echo.New()
	store := &memContactStore{}
	processor := &fakeProcessor{}
	channels := &fakeChannels{
		byID: map[string]tenant.Channel{
			"ch-w": {ID: "ch-w", TenantID: "t1", Type: "widget", WidgetKey: "wk-1"},
		},
		byWidgetKey: map[string]tenant.Channel{
			"wk-1": {ID: "ch-w", TenantID: "t1", Type: "widget", WidgetKey: "wk-1"},
		},
	}
	h := NewWidgetHandler(nil, channels, contact.NewService(nil, store), processor, nil, testJWTSecret, time.Hour)
	h.Register(e)
	return e, processor, store
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandshakeIssuesSessionToken(t *testing.T) {
	e, _, _ := newWidgetFixture(t)

	rec := postJSON(e, "/widget/session", `{"widget_key":"wk-1","name":"Visitor","email":"v@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handshakeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "t1", resp.Contact.TenantID)
	assert.Equal(t, "v@example.com", resp.Contact.Email)

	sess, err := auth.ParseWidgetToken(resp.Token, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, sess.SessionID)
	assert.Equal(t, "t1", sess.TenantID)
	assert.Equal(t, "ch-w", sess.ChannelID)
	assert.Equal(t, resp.Contact.ID, sess.ContactID)
}

func TestHandshakeRejectsUnknownWidgetKey(t *testing.T) {
	e, _, _ := newWidgetFixture(t)

	rec := postJSON(e, "/widget/session", `{"widget_key":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandshakeKeepsPriorSession(t *testing.T) {
	e, _, _ := newWidgetFixture(t)

	first := postJSON(e, "/widget/session", `{"widget_key":"wk-1"}`)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp handshakeResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

	second := postJSON(e, "/widget/session",
		fmt.Sprintf(`{"widget_key":"wk-1","token":%q}`, firstResp.Token))
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp handshakeResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))

	assert.Equal(t, firstResp.SessionID, secondResp.SessionID)
	assert.Equal(t, firstResp.Contact.ID, secondResp.Contact.ID, "same session resolves the same contact")
}

func TestWidgetSendMessage(t *testing.T) {
	e, processor, _ := newWidgetFixture(t)

	rec := postJSON(e, "/widget/session", `{"widget_key":"wk-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handshakeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	sent := postJSON(e, "/widget/messages",
		fmt.Sprintf(`{"token":%q,"content":"need help with my order"}`, resp.Token))
	require.Equal(t, http.StatusCreated, sent.Code, sent.Body.String())

	require.Len(t, processor.processed, 1)
	in := processor.processed[0]
	assert.Equal(t, resp.SessionID, in.SessionKey)
	assert.Equal(t, "need help with my order", in.Text)
}

func TestWidgetSendMessageRejectsBadToken(t *testing.T) {
	e, processor, _ := newWidgetFixture(t)

	rec := postJSON(e, "/widget/messages", `{"token":"garbage","content":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, processor.processed)
}

func TestHandshakeRejectsInvalidEmail(t *testing.T) {
	e, _, _ := newWidgetFixture(t)

	rec := postJSON(e, "/widget/session", `{"widget_key":"wk-1","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
