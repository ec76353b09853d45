package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

type fakeBus struct {
	routingKey string
	payload    []byte
	calls      int
	err        error
}

func (f *fakeBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	f.routingKey = routingKey
	f.payload = payload
	f.calls++
	return f.err
}

func (f *fakeBus) Close() error { return nil }

func TestEventBusNotifier_OnMissed_PublishesWithSlotMissedRoutingKey(t *testing.T) {
	bus := &fakeBus{}
	notifier := NewEventBusNotifier(bus, nil)

	rec := domain.PendingRecord{TargetID: "t1", SlotKey: "k1", EventStartsAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	notifier.OnMissed(context.Background(), rec)

	require.Equal(t, 1, bus.calls)
	assert.Equal(t, "publishing.slot.missed", bus.routingKey)

	var got wireEvent
	require.NoError(t, json.Unmarshal(bus.payload, &got))
	assert.Equal(t, "t1", got.TargetID)
	assert.Equal(t, "k1", got.SlotKey)
	assert.Empty(t, got.PublishedID)
}

func TestEventBusNotifier_OnPublished_PublishesWithSlotPublishedRoutingKeyAndEventID(t *testing.T) {
	bus := &fakeBus{}
	notifier := NewEventBusNotifier(bus, nil)

	rec := domain.PendingRecord{TargetID: "t1", SlotKey: "k1", EventStartsAt: time.Now()}
	notifier.OnPublished(context.Background(), rec, "ev-99")

	require.Equal(t, 1, bus.calls)
	assert.Equal(t, "publishing.slot.published", bus.routingKey)

	var got wireEvent
	require.NoError(t, json.Unmarshal(bus.payload, &got))
	assert.Equal(t, "ev-99", got.PublishedID)
}

func TestEventBusNotifier_PublishFailureDoesNotPanic(t *testing.T) {
	bus := &fakeBus{err: assertableError("broker down")}
	notifier := NewEventBusNotifier(bus, nil)

	assert.NotPanics(t, func() {
		notifier.OnMissed(context.Background(), domain.PendingRecord{TargetID: "t1", SlotKey: "k1"})
	})
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
