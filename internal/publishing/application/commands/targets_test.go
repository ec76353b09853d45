package commands

import (
	"context"
	"testing"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKnownTargets_NilLeavesStoreUntouched(t *testing.T) {
	store := newFakeStore()
	rec := domain.PendingRecord{ID: "r1", SlotKey: "r1", TargetID: "anything"}
	store.Put(context.Background(), rec)
	deps := newTestDeps(store, newFakeStates(), &fakeProfiles{}, &fakeExpander{}, &fakePublisher{}, &fakeNotifier{}, time.Now)

	dropped, err := SetKnownTargets(context.Background(), deps, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	_, ok := store.GetByID(context.Background(), "r1")
	assert.True(t, ok)
}

func TestSetKnownTargets_DropsRecordsForUnlistedTargets(t *testing.T) {
	store := newFakeStore()
	keep := domain.PendingRecord{ID: "keep", SlotKey: "keep", TargetID: "known"}
	drop := domain.PendingRecord{ID: "drop", SlotKey: "drop", TargetID: "unknown"}
	store.Put(context.Background(), keep)
	store.Put(context.Background(), drop)
	deps := newTestDeps(store, newFakeStates(), &fakeProfiles{}, &fakeExpander{}, &fakePublisher{}, &fakeNotifier{}, time.Now)

	dropped, err := SetKnownTargets(context.Background(), deps, []string{"known"})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	_, keepOK := store.GetByID(context.Background(), "keep")
	assert.True(t, keepOK)
	_, dropOK := store.GetByID(context.Background(), "drop")
	assert.False(t, dropOK)
}
