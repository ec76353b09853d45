package commands

import (
	"context"
	"sort"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/application/services"
	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// UpdatePendingForProfile reconciles a profile's pending slots against its
// current definition: non-overridden records are dropped and
// regenerated; overridden ones are left alone; automation disabled stops
// after the drop; otherwise the anchor is fixed, C1 expands new slots, and
// survivors are scheduled. Count-mode automations stop materializing once
// kept+published+newly-added slots reach RepeatCount; indefinite mode never
// stops on its own.
func UpdatePendingForProfile(ctx context.Context, d *Deps, targetID, profileKey string, profile domain.Profile) error {
	pending, err := d.Store.GetPending(ctx, targetID)
	if err != nil {
		return err
	}

	var kept []domain.PendingRecord
	var dropIDs []string
	for _, rec := range pending {
		if rec.ProfileKey != profileKey {
			continue
		}
		if rec.ManualOverrides.IsZero() {
			d.Scheduler.Cancel(rec.SlotKey)
			d.Gate.Remove(rec.SlotKey)
			dropIDs = append(dropIDs, rec.ID)
			continue
		}
		kept = append(kept, rec)
	}
	if len(dropIDs) > 0 {
		if err := d.Store.DeleteIDs(ctx, dropIDs); err != nil {
			return err
		}
	}

	if !profile.Automation.Enabled {
		return d.Store.Save(ctx)
	}

	anchor, anchorIsNew, err := resolveAnchor(ctx, d, targetID, profileKey, kept)
	if err != nil {
		return err
	}
	if anchorIsNew {
		if err := d.States.Save(ctx); err != nil {
			return err
		}
	}

	published, err := filteredRecords(ctx, d, targetID, profileKey, domain.StatusPublished)
	if err != nil {
		return err
	}
	deletedPool, err := d.Store.GetDeleted(ctx, targetID)
	if err != nil {
		return err
	}
	blocked := make(map[string]struct{}, len(kept)+len(published)+len(deletedPool))
	for _, rec := range kept {
		blocked[rec.SlotKey] = struct{}{}
	}
	for _, rec := range published {
		blocked[rec.SlotKey] = struct{}{}
	}
	for _, rec := range deletedPool {
		if rec.ProfileKey == profileKey {
			blocked[rec.SlotKey] = struct{}{}
		}
	}

	slots, err := d.Expander.ExpandPatterns(ctx, profile.Patterns, d.horizonMonths(), profile.Timezone)
	if err != nil {
		return err
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartsAt.Before(slots[j].StartsAt) })

	var state *domain.AutomationState
	if s, ok := d.States.Get(ctx, targetID, profileKey); ok {
		state = s
	}

	// count-mode caps the total number of slots ever materialized for this
	// profile (surviving + published + newly added); indefinite mode never
	// caps it.
	materializedCount := len(kept) + len(published)
	countLimit := -1
	if profile.Automation.Repeat == domain.RepeatModeCount {
		countLimit = profile.Automation.RepeatCount
	}

	var newRecords []domain.PendingRecord
	for i, slot := range slots {
		if anchor != nil && !slot.StartsAt.After(*anchor) {
			continue
		}
		// a published slot stays blocked even once its pending record is
		// gone (purged, garbage-collected) so it never re-materializes.
		if state.HasPublished(slot.StartsAt) {
			continue
		}
		if countLimit >= 0 && materializedCount >= countLimit {
			break
		}
		slotKey := domain.BuildSlotKey(targetID, profileKey, slot.StartsAt)
		if _, exists := blocked[slotKey]; exists {
			continue
		}

		publish := computeSlotPublish(d, profile.Automation, profile.Duration, slots, i, state)
		rec := domain.PendingRecord{
			ID:                   slotKey,
			SlotKey:              slotKey,
			TargetID:             targetID,
			ProfileKey:           profileKey,
			EventStartsAt:        slot.StartsAt,
			ScheduledPublishTime: publish,
			Status:               domain.StatusScheduled,
		}
		newRecords = append(newRecords, rec)
		blocked[slotKey] = struct{}{}
		materializedCount++
	}

	for _, rec := range newRecords {
		if err := d.Store.Put(ctx, rec); err != nil {
			return err
		}
	}
	if err := d.Store.Save(ctx); err != nil {
		return err
	}
	for _, rec := range newRecords {
		d.Scheduler.Schedule(ctx, rec)
	}
	return nil
}

// computeSlotPublish dispatches to the publish-time calculator for one
// expanded slot, supplying after-mode with its batch-local previous/next
// context.
func computeSlotPublish(d *Deps, automation domain.AutomationSettings, duration time.Duration, slots []domain.Slot, i int, state *domain.AutomationState) time.Time {
	start := slots[i].StartsAt
	switch automation.Timing {
	case domain.TimingModeMonthly:
		return d.Calc.ComputeMonthly(start, automation)
	case domain.TimingModeAfter:
		in := services.AfterModeInputs{
			Duration: duration,
			Now:      d.now(),
		}
		if i > 0 {
			prev := slots[i-1].StartsAt
			in.PreviousSlotStart = &prev
		} else if state != nil {
			in.LastSuccess = state.LastSuccess
		}
		if i+1 < len(slots) {
			next := slots[i+1].StartsAt
			in.NextSlotStart = &next
		}
		return d.Calc.ComputeAfter(start, automation, in)
	default:
		return d.Calc.ComputeBefore(start, automation)
	}
}

// resolveAnchor returns the profile's current anchor, deriving it from the
// earliest surviving pending slot when automation state has none yet.
// anchorIsNew reports whether a fresh anchor was just written to
// automation state.
func resolveAnchor(ctx context.Context, d *Deps, targetID, profileKey string, kept []domain.PendingRecord) (*time.Time, bool, error) {
	state, ok := d.States.Get(ctx, targetID, profileKey)
	if ok && state.ActivationStartsAt != nil {
		t := *state.ActivationStartsAt
		return &t, false, nil
	}

	var earliest *time.Time
	for _, rec := range kept {
		if earliest == nil || rec.EventStartsAt.Before(*earliest) {
			t := rec.EventStartsAt
			earliest = &t
		}
	}
	if earliest == nil {
		return nil, false, nil
	}

	if !ok {
		state = domain.NewAutomationState(targetID, profileKey)
	}
	t := *earliest
	state.ActivationStartsAt = &t
	if err := d.States.Put(ctx, state); err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

func filteredRecords(ctx context.Context, d *Deps, targetID, profileKey string, status domain.Status) ([]domain.PendingRecord, error) {
	pending, err := d.Store.GetPending(ctx, targetID)
	if err != nil {
		return nil, err
	}
	var out []domain.PendingRecord
	for _, rec := range pending {
		if rec.ProfileKey == profileKey && rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RecordManualEvent advances a profile's anchor backward only, per the
// anchor-monotonicity law.
func RecordManualEvent(ctx context.Context, d *Deps, targetID, profileKey string, startsAt time.Time) error {
	state, ok := d.States.Get(ctx, targetID, profileKey)
	if !ok {
		state = domain.NewAutomationState(targetID, profileKey)
	}
	state.AdvanceAnchor(startsAt)
	if err := d.States.Put(ctx, state); err != nil {
		return err
	}
	return d.States.Save(ctx)
}
