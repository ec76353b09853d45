// Package queries implements the engine's read-only views: the display-
// limited pending list and the missed/queued diagnostic counts.
package queries

import (
	"context"
	"sort"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// GetPending returns targetID's live pending records (filtering out
// cancelled/published, per the control API's pending view), soonest event
// first, truncated to the store's configured display limit when one is
// set.
func GetPending(ctx context.Context, store domain.PendingStore, targetID string) ([]domain.PendingRecord, error) {
	all, err := store.GetPending(ctx, targetID)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.PendingRecord, 0, len(all))
	for _, rec := range all {
		if rec.IsTerminal() {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EventStartsAt.Before(recs[j].EventStartsAt)
	})

	limit := store.DisplayLimit()
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// GetMissedQueuedCount reports the missed and queued record counts for a
// target, for diagnostics.
func GetMissedQueuedCount(ctx context.Context, store domain.PendingStore, targetID string) (missed, queued int, err error) {
	return store.CountMissedOrQueued(ctx, targetID)
}
