package services

import (
	"context"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// Normalizer implements slot identity and normalization on load (C3): it
// runs the six-step per-record pass and then dedups by slot key across
// pending and deleted.
type Normalizer struct {
	calc     *PublishTimeCalculator
	profiles domain.ProfileProvider
}

// NewNormalizer builds a Normalizer.
func NewNormalizer(calc *PublishTimeCalculator, profiles domain.ProfileProvider) *Normalizer {
	return &Normalizer{calc: calc, profiles: profiles}
}

// Normalize runs the six-step normalization pass over pending and deleted
// and returns the corrected sets plus whether anything changed (Load saves
// back only if normalization changed something). knownTargets is nil when
// no known-target set has been registered yet (step 1 then drops nothing).
func (n *Normalizer) Normalize(ctx context.Context, pending, deleted []domain.PendingRecord, knownTargets map[string]struct{}) (newPending, newDeleted []domain.PendingRecord, changed bool) {
	moved := append([]domain.PendingRecord(nil), deleted...)
	survivors := make([]domain.PendingRecord, 0, len(pending))

	for _, rec := range pending {
		original := rec

		// Step 1: drop records with an unknown target when a known set is
		// registered.
		if knownTargets != nil {
			if _, ok := knownTargets[rec.TargetID]; !ok {
				changed = true
				continue
			}
		}

		// Step 2: adopt an override's eventStartsAt if the record is
		// missing one.
		if rec.EventStartsAt.IsZero() && rec.ManualOverrides != nil && rec.ManualOverrides.EventStartsAt != nil {
			rec.EventStartsAt = *rec.ManualOverrides.EventStartsAt
		}

		// Step 3: reset invalid/unknown status to scheduled.
		if !rec.Status.IsValid() {
			rec.Status = domain.StatusScheduled
		}

		// Step 4: cancelled drops; deleted moves to the deleted pool.
		if rec.Status == domain.StatusCancelled {
			changed = true
			continue
		}
		if rec.Status == domain.StatusDeleted {
			moved = append(moved, rec)
			changed = changed || !recordsEqual(original, rec)
			continue
		}

		// Step 5: recompute scheduledPublishTime if missing and not
		// published; drop if it cannot be derived (profile gone).
		if rec.ScheduledPublishTime.IsZero() && rec.Status != domain.StatusPublished {
			profile, ok := n.profiles.GetProfile(ctx, rec.TargetID, rec.ProfileKey)
			if !ok {
				changed = true
				continue
			}
			rec.ScheduledPublishTime = n.calc.Compute(rec.EventStartsAt, profile.Automation)
		}

		// Step 6: recompute slotKey; replace id if not deterministic.
		slotKey := domain.BuildSlotKey(rec.TargetID, rec.ProfileKey, rec.EventStartsAt)
		if rec.SlotKey != slotKey {
			rec.SlotKey = slotKey
			changed = true
		}
		if !domain.IsDeterministicSlotKey(rec.ID) {
			rec.ID = slotKey
			changed = true
		}

		if !recordsEqual(original, rec) {
			changed = true
		}
		survivors = append(survivors, rec)
	}

	dedupedPending, dedupedDeleted, dedupChanged := dedupBySlotKey(survivors, moved)
	changed = changed || dedupChanged

	return dedupedPending, dedupedDeleted, changed
}

// dedupBySlotKey implements the dedup rule: within pending, keep the
// highest-priority record per slot-key equivalence class and drop the
// rest; drop deleted entries whose slot key collides with a surviving
// pending entry; dedup the deleted pool itself by slot key (most recently
// deleted wins).
func dedupBySlotKey(pending, deleted []domain.PendingRecord) ([]domain.PendingRecord, []domain.PendingRecord, bool) {
	changed := false

	bestByKey := make(map[string]domain.PendingRecord, len(pending))
	order := make([]string, 0, len(pending))
	for _, rec := range pending {
		existing, ok := bestByKey[rec.SlotKey]
		if !ok {
			bestByKey[rec.SlotKey] = rec
			order = append(order, rec.SlotKey)
			continue
		}
		changed = true
		if rec.Beats(existing) {
			bestByKey[rec.SlotKey] = rec
		}
	}
	dedupedPending := make([]domain.PendingRecord, 0, len(order))
	pendingKeys := make(map[string]struct{}, len(order))
	for _, key := range order {
		dedupedPending = append(dedupedPending, bestByKey[key])
		pendingKeys[key] = struct{}{}
	}

	bestDeleted := make(map[string]domain.PendingRecord, len(deleted))
	deletedOrder := make([]string, 0, len(deleted))
	for _, rec := range deleted {
		if _, collides := pendingKeys[rec.SlotKey]; collides {
			changed = true
			continue
		}
		existing, ok := bestDeleted[rec.SlotKey]
		if !ok {
			bestDeleted[rec.SlotKey] = rec
			deletedOrder = append(deletedOrder, rec.SlotKey)
			continue
		}
		changed = true
		if deletedAtAfter(rec, existing) {
			bestDeleted[rec.SlotKey] = rec
		}
	}
	dedupedDeleted := make([]domain.PendingRecord, 0, len(deletedOrder))
	for _, key := range deletedOrder {
		dedupedDeleted = append(dedupedDeleted, bestDeleted[key])
	}

	return dedupedPending, dedupedDeleted, changed
}

func deletedAtAfter(a, b domain.PendingRecord) bool {
	at, bt := time.Time{}, time.Time{}
	if a.DeletedAt != nil {
		at = *a.DeletedAt
	}
	if b.DeletedAt != nil {
		bt = *b.DeletedAt
	}
	return at.After(bt)
}

func recordsEqual(a, b domain.PendingRecord) bool {
	return a.ID == b.ID &&
		a.SlotKey == b.SlotKey &&
		a.Status == b.Status &&
		a.EventStartsAt.Equal(b.EventStartsAt) &&
		a.ScheduledPublishTime.Equal(b.ScheduledPublishTime)
}
