package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/message"
	"github.com/chatlinehq/chatline/internal/tenant"
)

type fakeChannels struct {
	byID        map[string]tenant.Channel
	byWidgetKey map[string]tenant.Channel
}

func (f *fakeChannels) GetChannel(_ context.Context, tenantID, channelID string) (tenant.Channel, error) {
	ch, ok := f.byID[channelID]
	if !ok || ch.TenantID != tenantID {
		return tenant.Channel{}, tenant.ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakeChannels) GetChannelByID(_ context.Context, channelID string) (tenant.Channel, error) {
	ch, ok := f.byID[channelID]
	if !ok {
		return tenant.Channel{}, tenant.ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakeChannels) GetChannelByWidgetKey(_ context.Context, widgetKey string) (tenant.Channel, error) {
	ch, ok := f.byWidgetKey[widgetKey]
	if !ok {
		return tenant.Channel{}, tenant.ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakeChannels) ListChannels(_ context.Context, tenantID string) ([]tenant.Channel, error) {
	var out []tenant.Channel
	for _, ch := range f.byID {
		if ch.TenantID == tenantID {
			out = append(out, ch)
		}
	}
	return out, nil
}

type fakeProcessor struct {
	processed []channel.Inbound
	err       error
}

func (f *fakeProcessor) Process(_ context.Context, in channel.Inbound) (message.Message, error) {
	if f.err != nil {
		return message.Message{}, f.err
	}
	f.processed = append(f.processed, in)
	return message.Message{ID: "msg-1", Content: in.Text}, nil
}

const telegramUpdate = `{"update_id":1,"message":{"message_id":10,"chat":{"id":42,"type":"private"},"from":{"id":7,"first_name":"Ada"},"text":"hi there"}}`

func newTelegramFixture(secret string) (*echo.Echo, *fakeProcessor) {
	e := echo.New()
	processor := &fakeProcessor{}
	channels := &fakeChannels{byID: map[string]tenant.Channel{
		"ch-1": {ID: "ch-1", TenantID: "t1", Type: "telegram"},
	}}
	NewTelegramHandler(nil, channels, processor, secret).Register(e)
	return e, processor
}

func postWebhook(e *echo.Echo, path, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set(telegramSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTelegramWebhookProcessesMessage(t *testing.T) {
	e, processor := newTelegramFixture("")

	rec := postWebhook(e, "/webhooks/telegram/ch-1", telegramUpdate, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, processor.processed, 1)
	in := processor.processed[0]
	assert.Equal(t, "t1", in.TenantID)
	assert.Equal(t, "42", in.ExternalContactID)
	assert.Equal(t, "hi there", in.Text)
	assert.Equal(t, "Ada", in.DisplayName)
}

func TestTelegramWebhookRejectsBadSecret(t *testing.T) {
	e, processor := newTelegramFixture("expected-secret")

	rec := postWebhook(e, "/webhooks/telegram/ch-1", telegramUpdate, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, processor.processed)
}

func TestTelegramWebhookAcksUnknownChannel(t *testing.T) {
	e, processor := newTelegramFixture("")

	rec := postWebhook(e, "/webhooks/telegram/missing", telegramUpdate, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, processor.processed)
}

func TestTelegramWebhookAcksProcessingFailure(t *testing.T) {
	e, processor := newTelegramFixture("")
	processor.err = errors.New("store down")

	rec := postWebhook(e, "/webhooks/telegram/ch-1", telegramUpdate, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTelegramWebhookDropsNonMessageUpdate(t *testing.T) {
	e, processor := newTelegramFixture("")

	rec := postWebhook(e, "/webhooks/telegram/ch-1", `{"update_id":2}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, processor.processed)
}
