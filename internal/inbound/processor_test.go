package inbound

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/contact"
	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/message"
)

type fakeContacts struct {
	hints []contact.IdentityHint
	err   error
}

func (f *fakeContacts) Resolve(_ context.Context, tenantID string, hint contact.IdentityHint) (contact.Contact, error) {
	if f.err != nil {
		return contact.Contact{}, f.err
	}
	f.hints = append(f.hints, hint)
	return contact.Contact{ID: "contact-1", TenantID: tenantID, DisplayName: hint.DisplayName}, nil
}

type fakeConversations struct {
	sessionKeys []string
}

func (f *fakeConversations) Resolve(_ context.Context, tenantID, contactID, sessionKey, channelType string) (conversation.Conversation, error) {
	f.sessionKeys = append(f.sessionKeys, sessionKey)
	return conversation.Conversation{ID: "conv-1", TenantID: tenantID, ContactID: contactID, Channel: channelType}, nil
}

type fakeMessages struct {
	inputs []message.AppendInput
}

func (f *fakeMessages) Append(_ context.Context, input message.AppendInput) (message.Message, error) {
	f.inputs = append(f.inputs, input)
	return message.Message{ID: "msg-1", ConversationID: input.ConversationID, Content: input.Content}, nil
}

func TestProcessRunsFullPipeline(t *testing.T) {
	contacts := &fakeContacts{}
	conversations := &fakeConversations{}
	messages := &fakeMessages{}
	p := NewProcessor(nil, contacts, conversations, messages)

	msg, err := p.Process(context.Background(), channel.Inbound{
		TenantID:          "tenant-1",
		ChannelID:         "ch-1",
		ChannelType:       channel.TypeTelegram,
		SessionKey:        "ch-1:42",
		ExternalContactID: "42",
		DisplayName:       "Alice",
		Text:              "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)

	require.Len(t, contacts.hints, 1)
	assert.Equal(t, "42", contacts.hints[0].ExternalID)
	assert.Equal(t, []string{"ch-1:42"}, conversations.sessionKeys)

	require.Len(t, messages.inputs, 1)
	input := messages.inputs[0]
	assert.Equal(t, "conv-1", input.ConversationID)
	assert.Equal(t, message.SenderContact, input.SenderType)
	assert.Equal(t, "contact-1", input.SenderID)
	assert.Equal(t, "text", input.ContentType)
}

func TestProcessDropsMalformedIntent(t *testing.T) {
	contacts := &fakeContacts{}
	messages := &fakeMessages{}
	p := NewProcessor(nil, contacts, &fakeConversations{}, messages)

	msg, err := p.Process(context.Background(), channel.Inbound{
		TenantID: "tenant-1",
		Text:     "no session key",
	})
	require.NoError(t, err, "malformed intents are dropped, not errored")
	assert.Empty(t, msg.ID)
	assert.Empty(t, contacts.hints)
	assert.Empty(t, messages.inputs)
}

func TestProcessPropagatesResolveFailure(t *testing.T) {
	contacts := &fakeContacts{err: errors.New("store down")}
	messages := &fakeMessages{}
	p := NewProcessor(nil, contacts, &fakeConversations{}, messages)

	_, err := p.Process(context.Background(), channel.Inbound{
		TenantID:   "tenant-1",
		SessionKey: "sess-1",
		Text:       "hello",
		Email:      "a@example.com",
	})
	require.Error(t, err)
	assert.Empty(t, messages.inputs)
}
