// Package notify implements domain.Notifier by fanning slot-missed and
// slot-published events out over the shared event bus, so other bounded
// contexts (alerting, analytics) can subscribe without coupling to the
// publishing engine directly.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/cynacedia/pubkeeper/internal/shared/infrastructure/eventbus"
)

// EventBusNotifier implements domain.Notifier over an eventbus.Publisher.
type EventBusNotifier struct {
	bus    eventbus.Publisher
	logger *slog.Logger
}

// NewEventBusNotifier returns an EventBusNotifier publishing through bus.
func NewEventBusNotifier(bus eventbus.Publisher, logger *slog.Logger) *EventBusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBusNotifier{bus: bus, logger: logger}
}

type wireEvent struct {
	EventID       string `json:"event_id"`
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	TargetID      string `json:"target_id"`
	SlotKey       string `json:"slot_key"`
	EventStartsAt string `json:"event_starts_at"`
	PublishedID   string `json:"published_event_id,omitempty"`
}

// OnMissed implements domain.Notifier.
func (n *EventBusNotifier) OnMissed(ctx context.Context, rec domain.PendingRecord) {
	event := domain.NewSlotMissedEvent(rec)
	n.publish(ctx, event.RoutingKey(), wireEvent{
		EventID:       event.EventID().String(),
		AggregateID:   event.AggregateID().String(),
		AggregateType: event.AggregateType(),
		TargetID:      rec.TargetID,
		SlotKey:       rec.SlotKey,
		EventStartsAt: rec.EventStartsAt.Format(eventTimeLayout),
	})
}

// OnPublished implements domain.Notifier.
func (n *EventBusNotifier) OnPublished(ctx context.Context, rec domain.PendingRecord, eventID string) {
	event := domain.NewSlotPublishedEvent(rec, eventID)
	n.publish(ctx, event.RoutingKey(), wireEvent{
		EventID:       event.EventID().String(),
		AggregateID:   event.AggregateID().String(),
		AggregateType: event.AggregateType(),
		TargetID:      rec.TargetID,
		SlotKey:       rec.SlotKey,
		EventStartsAt: rec.EventStartsAt.Format(eventTimeLayout),
		PublishedID:   eventID,
	})
}

const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func (n *EventBusNotifier) publish(ctx context.Context, routingKey string, payload wireEvent) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("marshal notification event", "routing_key", routingKey, "error", err)
		return
	}
	if err := n.bus.Publish(ctx, routingKey, body); err != nil {
		n.logger.Error("publish notification event", "routing_key", routingKey, "error", err)
	}
}
