package domain

import (
	sharedDomain "github.com/cynacedia/pubkeeper/internal/shared/domain"
	"github.com/google/uuid"
)

// slotKeyNamespace derives a stable uuid.UUID from a slot key so pending
// records (string-identified) can still satisfy the shared kernel's
// uuid-keyed DomainEvent.AggregateID.
var slotKeyNamespace = uuid.MustParse("9c5a6e0e-9c6a-4e60-9f0b-9f1f2a9b9c4a")

func slotKeyAggregateID(slotKey string) uuid.UUID {
	return uuid.NewSHA1(slotKeyNamespace, []byte(slotKey))
}

const aggregateTypePendingRecord = "publishing.pending_record"

// SlotMissedEvent is raised when the scheduler (C5) flips a record to
// missed, either at startup or on timer fire.
type SlotMissedEvent struct {
	sharedDomain.BaseEvent
	Record PendingRecord
}

// NewSlotMissedEvent builds a SlotMissedEvent for rec.
func NewSlotMissedEvent(rec PendingRecord) SlotMissedEvent {
	return SlotMissedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(slotKeyAggregateID(rec.SlotKey), aggregateTypePendingRecord, "publishing.slot.missed"),
		Record:    rec,
	}
}

// SlotPublishedEvent is raised when the publish worker (C7) successfully
// commits an event.
type SlotPublishedEvent struct {
	sharedDomain.BaseEvent
	Record  PendingRecord
	EventID string
}

// NewSlotPublishedEvent builds a SlotPublishedEvent for rec.
func NewSlotPublishedEvent(rec PendingRecord, eventID string) SlotPublishedEvent {
	return SlotPublishedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(slotKeyAggregateID(rec.SlotKey), aggregateTypePendingRecord, "publishing.slot.published"),
		Record:    rec,
		EventID:   eventID,
	}
}
