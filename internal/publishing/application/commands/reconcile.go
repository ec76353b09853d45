package commands

import (
	"context"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// RealEvent is one entry of the remote endpoint's current event list, used
// to reconcile published records.
type RealEvent struct {
	EventID       string
	EventStartsAt time.Time
	Title         string
}

// ReconcilePublished drops published records for targetID whose remote
// event no longer exists: match by eventId when one was recorded, falling
// back to eventStartsAt only when eventId is unknown (a recorded eventId
// that's absent from upcoming means the remote event was renamed or
// replaced, not that it vanished by start time). Dropping frees the slot
// key for a future expansion to regenerate.
func ReconcilePublished(ctx context.Context, d *Deps, targetID string, upcoming []RealEvent) error {
	pending, err := d.Store.GetPending(ctx, targetID)
	if err != nil {
		return err
	}

	var dropIDs []string
	for _, rec := range pending {
		if rec.Status != domain.StatusPublished {
			continue
		}
		if matchesByID(rec.EventID, upcoming) {
			continue
		}
		if rec.EventID == "" && matchesByStart(rec.EventStartsAt, rec.SlotKey, upcoming) {
			continue
		}
		dropIDs = append(dropIDs, rec.ID)
	}

	if len(dropIDs) == 0 {
		return nil
	}
	if err := d.Store.DeleteIDs(ctx, dropIDs); err != nil {
		return err
	}
	return d.Store.Save(ctx)
}

func matchesByID(eventID string, upcoming []RealEvent) bool {
	if eventID == "" {
		return false
	}
	for _, e := range upcoming {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

// matchesByStart falls back to a start-time match when eventId is unknown;
// ties among same-start real events are broken by slotKey-adjacent title
// comparison left to the caller's data (no title stored on PendingRecord),
// so any start match is accepted here.
func matchesByStart(startsAt time.Time, _ string, upcoming []RealEvent) bool {
	for _, e := range upcoming {
		if e.EventStartsAt.Equal(startsAt) {
			return true
		}
	}
	return false
}
