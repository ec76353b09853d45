package commands

import (
	"context"
	"testing"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeProfile_RemovesPendingDeletedAndAutomationState(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	pending := domain.PendingRecord{ID: "p1", SlotKey: "p1", TargetID: "t1", ProfileKey: "profA", EventStartsAt: now.Add(time.Hour)}
	store.Put(context.Background(), pending)

	deletedRec := domain.PendingRecord{ID: "d1", SlotKey: "d1", TargetID: "t1", ProfileKey: "profA"}
	store.Put(context.Background(), deletedRec)
	require.NoError(t, store.SoftDelete(context.Background(), "d1"))

	otherProfile := domain.PendingRecord{ID: "p2", SlotKey: "p2", TargetID: "t1", ProfileKey: "profB"}
	store.Put(context.Background(), otherProfile)

	states := newFakeStates()
	states.Put(context.Background(), domain.NewAutomationState("t1", "profA"))

	deps := newTestDeps(store, states, &fakeProfiles{}, &fakeExpander{}, &fakePublisher{}, &fakeNotifier{}, time.Now)

	err := PurgeProfile(context.Background(), deps, "t1", "profA")
	require.NoError(t, err)

	_, ok := store.GetByID(context.Background(), "p1")
	assert.False(t, ok)
	deleted, _ := store.GetDeleted(context.Background(), "t1")
	assert.Empty(t, deleted)
	_, stateOK := states.Get(context.Background(), "t1", "profA")
	assert.False(t, stateOK)

	_, otherOK := store.GetByID(context.Background(), "p2")
	assert.True(t, otherOK, "other profiles must be untouched")
}
