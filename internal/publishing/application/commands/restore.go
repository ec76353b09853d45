package commands

import (
	"context"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// RestoreDeleted restores eligible deleted entries for a profile: future
// restore start, strictly after the anchor, no slot-key clash with a
// modified or published record. Returns the restored count.
func RestoreDeleted(ctx context.Context, d *Deps, targetID, profileKey string) (int, error) {
	deleted, err := d.Store.GetDeleted(ctx, targetID)
	if err != nil {
		return 0, err
	}
	pending, err := d.Store.GetPending(ctx, targetID)
	if err != nil {
		return 0, err
	}

	blocked := make(map[string]struct{}, len(pending))
	for _, rec := range pending {
		if rec.ProfileKey != profileKey {
			continue
		}
		if !rec.ManualOverrides.IsZero() || rec.Status == domain.StatusPublished {
			blocked[rec.SlotKey] = struct{}{}
		}
	}

	var anchor *time.Time
	if state, ok := d.States.Get(ctx, targetID, profileKey); ok {
		anchor = state.ActivationStartsAt
	}

	profile, profileOK := d.Profiles.GetProfile(ctx, targetID, profileKey)
	now := d.now()

	restored := 0
	for _, rec := range deleted {
		if rec.ProfileKey != profileKey {
			continue
		}
		if anchor != nil && !rec.EventStartsAt.After(*anchor) {
			continue
		}
		if _, clash := blocked[rec.SlotKey]; clash {
			continue
		}
		if !profileOK {
			continue
		}

		publish := d.Calc.RestoreBasis(rec.EventStartsAt, profile.Automation)
		if !publish.After(now) {
			continue
		}

		moved, ok := d.Store.Restore(ctx, rec.ID)
		if !ok {
			continue
		}
		upd := moved.Clone()
		upd.ScheduledPublishTime = publish
		upd.Status = domain.StatusScheduled
		upd.DeletedAt = nil
		upd.QueuedAt = nil
		upd.MissedAt = nil
		if upd.ManualOverrides.IsZero() {
			upd.ManualOverrides = nil
		}
		if err := d.Store.Put(ctx, upd); err != nil {
			return restored, err
		}
		d.Scheduler.Schedule(ctx, upd)
		blocked[upd.SlotKey] = struct{}{}
		restored++
	}

	if restored == 0 {
		return 0, nil
	}
	return restored, d.Store.Save(ctx)
}
