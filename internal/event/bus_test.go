package event_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatlinehq/chatline/internal/event"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	bus := event.NewBus(nil)

	var got []string
	bus.Subscribe(event.TypeMessageCreated, func(ctx context.Context, evt event.Event) error {
		got = append(got, "first")
		return nil
	})
	bus.Subscribe(event.TypeMessageCreated, func(ctx context.Context, evt event.Event) error {
		got = append(got, "second")
		return nil
	})
	bus.Subscribe(event.TypeConversationCreated, func(ctx context.Context, evt event.Event) error {
		got = append(got, "other-type")
		return nil
	})

	bus.Publish(context.Background(), event.Event{Type: event.TypeMessageCreated, TenantID: "t1"})
	require.Equal(t, []string{"first", "second"}, got)
}

func TestPublishContinuesPastFailingSubscriber(t *testing.T) {
	t.Parallel()
	bus := event.NewBus(nil)

	var delivered bool
	bus.Subscribe(event.TypeMessageCreated, func(ctx context.Context, evt event.Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(event.TypeMessageCreated, func(ctx context.Context, evt event.Event) error {
		panic("worse")
	})
	bus.Subscribe(event.TypeMessageCreated, func(ctx context.Context, evt event.Event) error {
		delivered = true
		return nil
	})

	bus.Publish(context.Background(), event.Event{Type: event.TypeMessageCreated})
	require.True(t, delivered, "later subscriber must still receive the event")
}

func TestPublishPreservesPerTypeOrder(t *testing.T) {
	t.Parallel()
	bus := event.NewBus(nil)

	var seen []string
	bus.Subscribe(event.TypeMessageCreated, func(ctx context.Context, evt event.Event) error {
		payload := evt.Payload.(event.MessageCreated)
		seen = append(seen, payload.MessageID)
		return nil
	})

	for _, id := range []string{"m1", "m2", "m3"} {
		bus.Publish(context.Background(), event.Event{
			Type:    event.TypeMessageCreated,
			Payload: event.MessageCreated{MessageID: id, ConversationID: "c1"},
		})
	}
	require.Equal(t, []string{"m1", "m2", "m3"}, seen)
}
