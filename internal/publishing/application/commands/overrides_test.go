package commands

import (
	"context"
	"testing"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOverrides_UnknownIDReturnsNotFound(t *testing.T) {
	store := newFakeStore()
	deps := newTestDeps(store, newFakeStates(), &fakeProfiles{}, &fakeExpander{}, &fakePublisher{}, &fakeNotifier{}, time.Now)

	err := ApplyOverrides(context.Background(), deps, "nope", domain.ManualOverrides{})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestApplyOverrides_RecomputesPublishTimeAndSlotKeyOnNewStart(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	oldStart := now.Add(24 * time.Hour)
	rec := domain.PendingRecord{
		ID: "r1", SlotKey: domain.BuildSlotKey("t1", "p1", oldStart), TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: oldStart, ScheduledPublishTime: oldStart.Add(-time.Hour), Status: domain.StatusScheduled,
	}
	store.Put(context.Background(), rec)

	profiles := &fakeProfiles{profiles: map[string]domain.Profile{
		"t1/p1": {TargetID: "t1", ProfileKey: "p1", Automation: domain.AutomationSettings{Timing: domain.TimingModeBefore, HoursOffset: 1}},
	}}
	deps := newTestDeps(store, newFakeStates(), profiles, &fakeExpander{}, &fakePublisher{}, &fakeNotifier{}, func() time.Time { return now })

	newStart := now.Add(72 * time.Hour)
	err := ApplyOverrides(context.Background(), deps, "r1", domain.ManualOverrides{EventStartsAt: &newStart})
	require.NoError(t, err)

	stored, ok := store.GetByID(context.Background(), "r1")
	require.True(t, ok)
	assert.True(t, stored.EventStartsAt.Equal(newStart))
	assert.Equal(t, domain.BuildSlotKey("t1", "p1", newStart), stored.SlotKey)
	assert.Equal(t, domain.StatusScheduled, stored.Status)
	assert.Equal(t, newStart.Add(-time.Hour), stored.ScheduledPublishTime)
}

func TestApplyOverrides_FlipsToMissedWhenRecomputedPublishTimeHasPassed(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	oldStart := now.Add(24 * time.Hour)
	rec := domain.PendingRecord{
		ID: "r1", SlotKey: domain.BuildSlotKey("t1", "p1", oldStart), TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: oldStart, ScheduledPublishTime: oldStart.Add(-time.Hour), Status: domain.StatusScheduled,
	}
	store.Put(context.Background(), rec)

	profiles := &fakeProfiles{profiles: map[string]domain.Profile{
		"t1/p1": {TargetID: "t1", ProfileKey: "p1", Automation: domain.AutomationSettings{Timing: domain.TimingModeBefore, HoursOffset: 1}},
	}}
	notifier := &fakeNotifier{}
	deps := newTestDeps(store, newFakeStates(), profiles, &fakeExpander{}, &fakePublisher{}, notifier, func() time.Time { return now })

	newStart := now.Add(-time.Minute) // already in the past
	err := ApplyOverrides(context.Background(), deps, "r1", domain.ManualOverrides{EventStartsAt: &newStart})
	require.NoError(t, err)

	stored, ok := store.GetByID(context.Background(), "r1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusMissed, stored.Status)
	require.NotNil(t, stored.MissedAt)
}

func TestApplyOverrides_NonStartFieldDoesNotRecomputePublishTime(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	publish := start.Add(-time.Hour)
	rec := domain.PendingRecord{
		ID: "r1", SlotKey: domain.BuildSlotKey("t1", "p1", start), TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: start, ScheduledPublishTime: publish, Status: domain.StatusScheduled,
	}
	store.Put(context.Background(), rec)

	deps := newTestDeps(store, newFakeStates(), &fakeProfiles{}, &fakeExpander{}, &fakePublisher{}, &fakeNotifier{}, func() time.Time { return now })

	title := "new title"
	err := ApplyOverrides(context.Background(), deps, "r1", domain.ManualOverrides{Title: &title})
	require.NoError(t, err)

	stored, ok := store.GetByID(context.Background(), "r1")
	require.True(t, ok)
	assert.Equal(t, publish, stored.ScheduledPublishTime)
	assert.Equal(t, "new title", *stored.ManualOverrides.Title)
}
