package commands

import "context"

// PurgeProfile cancels all timers for a profile and drops its pending,
// deleted, and automation state entirely.
func PurgeProfile(ctx context.Context, d *Deps, targetID, profileKey string) error {
	pending, err := d.Store.GetPending(ctx, targetID)
	if err != nil {
		return err
	}
	var ids []string
	for _, rec := range pending {
		if rec.ProfileKey != profileKey {
			continue
		}
		d.Scheduler.Cancel(rec.SlotKey)
		d.Gate.Remove(rec.SlotKey)
		ids = append(ids, rec.ID)
	}

	deleted, err := d.Store.GetDeleted(ctx, targetID)
	if err != nil {
		return err
	}
	for _, rec := range deleted {
		if rec.ProfileKey == profileKey {
			ids = append(ids, rec.ID)
		}
	}

	if len(ids) > 0 {
		if err := d.Store.DeleteIDs(ctx, ids); err != nil {
			return err
		}
	}
	if err := d.States.Delete(ctx, targetID, profileKey); err != nil {
		return err
	}
	return d.Store.Save(ctx)
}
