package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationStateStore_SaveThenLoad_RoundTripsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewAutomationStateStore(path)

	anchor := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	lastSuccess := anchor.Add(24 * time.Hour)
	state := &domain.AutomationState{
		TargetID: "t1", ProfileKey: "p1",
		EventsCreated:      3,
		ActivationStartsAt: &anchor,
		LastSuccess:        &lastSuccess,
		LastEventID:        "ev-1",
	}
	state.MarkPublished(anchor)
	require.NoError(t, store.Put(context.Background(), state))
	require.NoError(t, store.Save(context.Background()))

	reloaded := NewAutomationStateStore(path)
	require.NoError(t, reloaded.Load(context.Background()))

	got, ok := reloaded.Get(context.Background(), "t1", "p1")
	require.True(t, ok)
	assert.Equal(t, 3, got.EventsCreated)
	assert.Equal(t, "ev-1", got.LastEventID)
	require.NotNil(t, got.ActivationStartsAt)
	assert.True(t, got.ActivationStartsAt.Equal(anchor))
	assert.True(t, got.HasPublished(anchor))
}

func TestStateKey_SplitsOnDoubleColonHandlingEmbeddedColons(t *testing.T) {
	key := stateKey("target:with:colons", "profile:key")
	targetID, profileKey := splitStateKey(key)
	assert.Equal(t, "target:with:colons", targetID)
	assert.Equal(t, "profile:key", profileKey)
}

func TestAutomationStateStore_DeleteRemovesEntry(t *testing.T) {
	store := NewAutomationStateStore(filepath.Join(t.TempDir(), "state.json"))
	state := domain.NewAutomationState("t1", "p1")
	require.NoError(t, store.Put(context.Background(), state))

	require.NoError(t, store.Delete(context.Background(), "t1", "p1"))
	_, ok := store.Get(context.Background(), "t1", "p1")
	assert.False(t, ok)
}

func TestAutomationStateStore_All_ReturnsEveryState(t *testing.T) {
	store := NewAutomationStateStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, store.Put(context.Background(), domain.NewAutomationState("t1", "p1")))
	require.NoError(t, store.Put(context.Background(), domain.NewAutomationState("t2", "p2")))

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAutomationStateStore_Load_MissingFileIsNotAnError(t *testing.T) {
	store := NewAutomationStateStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, store.Load(context.Background()))
	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
