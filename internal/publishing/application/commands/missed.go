package commands

import (
	"context"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// Missed actions recognized by ActOnMissed.
const (
	ActionPostNow    = "postNow"
	ActionReschedule = "reschedule"
	ActionCancel     = "cancel"
)

// ActOnMissed applies one of the three missed-record actions and reports
// the resulting outcome.
func ActOnMissed(ctx context.Context, d *Deps, id, action string) (string, error) {
	stored, ok := d.Store.GetByID(ctx, id)
	if !ok {
		return "", domain.ErrRecordNotFound
	}
	rec := stored.Clone()

	switch action {
	case ActionPostNow:
		return postNow(ctx, d, rec)
	case ActionReschedule:
		return reschedule(ctx, d, rec)
	case ActionCancel:
		return cancel(ctx, d, rec)
	default:
		return "", domain.ErrInvalidAction
	}
}

func postNow(ctx context.Context, d *Deps, rec domain.PendingRecord) (string, error) {
	if rec.Status == domain.StatusQueued || rec.Status == domain.StatusPublished {
		return "", domain.ErrTerminalStatus
	}
	d.Scheduler.Cancel(rec.SlotKey)
	d.Worker.ProcessItem(ctx, rec.TargetID, rec.SlotKey)

	updated, ok := d.Store.GetByID(ctx, rec.ID)
	if !ok {
		return "error", nil
	}
	switch updated.Status {
	case domain.StatusPublished:
		return "published", nil
	case domain.StatusQueued:
		return "queued", nil
	default:
		return "error", nil
	}
}

func reschedule(ctx context.Context, d *Deps, rec domain.PendingRecord) (string, error) {
	now := d.now()
	newPublish := now.Add(5 * time.Minute)

	if profile, ok := d.Profiles.GetProfile(ctx, rec.TargetID, rec.ProfileKey); ok && profile.Automation.Timing == domain.TimingModeBefore {
		candidate := d.Calc.ComputeBefore(rec.EventStartsAt, profile.Automation)
		if candidate.After(now) {
			newPublish = candidate
		}
	}

	rec.ScheduledPublishTime = newPublish
	rec.Status = domain.StatusScheduled
	rec.MissedAt = nil
	if err := d.Store.Put(ctx, rec); err != nil {
		return "", err
	}
	if err := d.Store.Save(ctx); err != nil {
		return "", err
	}
	d.Scheduler.Schedule(ctx, rec)
	return "scheduled", nil
}

func cancel(ctx context.Context, d *Deps, rec domain.PendingRecord) (string, error) {
	d.Scheduler.Cancel(rec.SlotKey)
	d.Gate.Remove(rec.SlotKey)
	if err := d.Store.SoftDelete(ctx, rec.ID); err != nil {
		return "", err
	}

	remaining, err := d.Store.GetPending(ctx, rec.TargetID)
	if err != nil {
		return "", err
	}
	active := false
	for _, r := range remaining {
		if r.ProfileKey == rec.ProfileKey && !r.IsTerminal() {
			active = true
			break
		}
	}
	if !active {
		deleted, err := d.Store.GetDeleted(ctx, rec.TargetID)
		if err != nil {
			return "", err
		}
		var staleIDs []string
		for _, r := range deleted {
			if r.ProfileKey == rec.ProfileKey {
				staleIDs = append(staleIDs, r.ID)
			}
		}
		if len(staleIDs) > 0 {
			if err := d.Store.DeleteIDs(ctx, staleIDs); err != nil {
				return "", err
			}
		}
		if err := d.States.Delete(ctx, rec.TargetID, rec.ProfileKey); err != nil {
			return "", err
		}
	}

	return "cancelled", d.Store.Save(ctx)
}
