package commands

import (
	"context"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// ApplyOverrides stores a record's manual overrides and, if eventStartsAt
// changed, recomputes its publish time and re-classifies missed/scheduled.
func ApplyOverrides(ctx context.Context, d *Deps, id string, overrides domain.ManualOverrides) error {
	stored, ok := d.Store.GetByID(ctx, id)
	if !ok {
		return domain.ErrRecordNotFound
	}
	rec := stored.Clone()
	oldSlotKey := rec.SlotKey
	oldStart := rec.EventStartsAt
	oldPublish := rec.ScheduledPublishTime

	rec.ManualOverrides = &overrides

	if overrides.EventStartsAt != nil {
		newStart := *overrides.EventStartsAt
		rec.EventStartsAt = newStart
		rec.SlotKey = domain.BuildSlotKey(rec.TargetID, rec.ProfileKey, newStart)

		if profile, ok := d.Profiles.GetProfile(ctx, rec.TargetID, rec.ProfileKey); ok {
			rec.ScheduledPublishTime = d.Calc.RecomputeForOverride(profile.Automation, oldStart, oldPublish, newStart)
		}
	}

	now := d.now()
	if rec.SlotKey != oldSlotKey {
		d.Scheduler.Cancel(oldSlotKey)
		d.Gate.Remove(oldSlotKey)
	}

	if !rec.ScheduledPublishTime.After(now) {
		rec.Status = domain.StatusMissed
		missedAt := now
		rec.MissedAt = &missedAt
		d.Scheduler.Cancel(rec.SlotKey)
		if err := d.Store.Put(ctx, rec); err != nil {
			return err
		}
		d.notifyMissed(ctx, rec)
	} else {
		rec.Status = domain.StatusScheduled
		rec.MissedAt = nil
		if err := d.Store.Put(ctx, rec); err != nil {
			return err
		}
		d.Scheduler.Schedule(ctx, rec)
	}

	return d.Store.Save(ctx)
}

func (d *Deps) notifyMissed(ctx context.Context, rec domain.PendingRecord) {
	defer func() { recover() }()
	d.Notifier.OnMissed(ctx, rec)
}
