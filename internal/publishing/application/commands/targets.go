package commands

import (
	"context"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// SetKnownTargets intersects pending and deleted with ids, dropping any
// record whose target is no longer known. A nil ids leaves the store
// untouched. Returns the count of dropped records.
func SetKnownTargets(ctx context.Context, d *Deps, ids []string) (int, error) {
	if ids == nil {
		return 0, nil
	}
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}

	pending, err := d.Store.AllPending(ctx)
	if err != nil {
		return 0, err
	}
	deleted, err := d.Store.AllDeleted(ctx)
	if err != nil {
		return 0, err
	}

	keepPending := make([]domain.PendingRecord, 0, len(pending))
	keepDeleted := make([]domain.PendingRecord, 0, len(deleted))
	dropped := 0

	for _, rec := range pending {
		if _, ok := allowed[rec.TargetID]; ok {
			keepPending = append(keepPending, rec)
			continue
		}
		dropped++
		d.Scheduler.Cancel(rec.SlotKey)
		d.Gate.Remove(rec.SlotKey)
	}
	for _, rec := range deleted {
		if _, ok := allowed[rec.TargetID]; ok {
			keepDeleted = append(keepDeleted, rec)
			continue
		}
		dropped++
	}

	if dropped == 0 {
		return 0, nil
	}
	if err := d.Store.ReplaceAll(ctx, keepPending, keepDeleted); err != nil {
		return 0, err
	}
	d.logger().Info("pruned records for unknown targets", "count", dropped)
	return dropped, d.Store.Save(ctx)
}
