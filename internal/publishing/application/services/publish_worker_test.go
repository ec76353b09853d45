package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePendingStore struct {
	mu      sync.Mutex
	records map[string]domain.PendingRecord
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{records: make(map[string]domain.PendingRecord)}
}

func (s *fakePendingStore) Load(context.Context) error { return nil }
func (s *fakePendingStore) Save(context.Context) error { return nil }

func (s *fakePendingStore) GetPending(_ context.Context, targetID string) ([]domain.PendingRecord, error) {
	return nil, nil
}
func (s *fakePendingStore) AllPending(context.Context) ([]domain.PendingRecord, error) { return nil, nil }

func (s *fakePendingStore) GetByID(_ context.Context, id string) (*domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	clone := rec.Clone()
	return &clone, true
}

func (s *fakePendingStore) GetBySlotKey(_ context.Context, slotKey string) (*domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.SlotKey == slotKey {
			clone := rec.Clone()
			return &clone, true
		}
	}
	return nil, false
}

func (s *fakePendingStore) GetDeleted(context.Context, string) ([]domain.PendingRecord, error) { return nil, nil }
func (s *fakePendingStore) AllDeleted(context.Context) ([]domain.PendingRecord, error)          { return nil, nil }

func (s *fakePendingStore) Put(_ context.Context, rec domain.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *fakePendingStore) ReplaceAll(context.Context, []domain.PendingRecord, []domain.PendingRecord) error {
	return nil
}
func (s *fakePendingStore) SoftDelete(context.Context, string) error { return nil }
func (s *fakePendingStore) Restore(context.Context, string) (*domain.PendingRecord, bool) {
	return nil, false
}
func (s *fakePendingStore) DeleteIDs(context.Context, []string) error { return nil }

func (s *fakePendingStore) CountMissedOrQueued(context.Context, string) (int, int, error) {
	return 0, 0, nil
}

func (s *fakePendingStore) DisplayLimit() int   { return 0 }
func (s *fakePendingStore) SetDisplayLimit(int) {}

func (s *fakePendingStore) get(id string) (domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

type fakeAutomationStateStore struct {
	mu     sync.Mutex
	states map[string]*domain.AutomationState
}

func newFakeAutomationStateStore() *fakeAutomationStateStore {
	return &fakeAutomationStateStore{states: make(map[string]*domain.AutomationState)}
}

func key(targetID, profileKey string) string { return targetID + "/" + profileKey }

func (s *fakeAutomationStateStore) Load(context.Context) error { return nil }
func (s *fakeAutomationStateStore) Save(context.Context) error { return nil }

func (s *fakeAutomationStateStore) Get(_ context.Context, targetID, profileKey string) (*domain.AutomationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key(targetID, profileKey)]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

func (s *fakeAutomationStateStore) Put(_ context.Context, state *domain.AutomationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key(state.TargetID, state.ProfileKey)] = state.Clone()
	return nil
}

func (s *fakeAutomationStateStore) Delete(_ context.Context, targetID, profileKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key(targetID, profileKey))
	return nil
}

func (s *fakeAutomationStateStore) All(context.Context) ([]*domain.AutomationState, error) { return nil, nil }

type fakeNotifier struct {
	mu        sync.Mutex
	published []string
	missed    []string
	panicOn   bool
}

func (n *fakeNotifier) OnMissed(_ context.Context, rec domain.PendingRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, rec.SlotKey)
}

func (n *fakeNotifier) OnPublished(_ context.Context, rec domain.PendingRecord, eventID string) {
	if n.panicOn {
		panic("notifier boom")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, rec.SlotKey)
}

func newTestWorker(store *fakePendingStore, states *fakeAutomationStateStore, profiles map[string]domain.Profile, pub domain.Publisher, notifier domain.Notifier) *PublishWorker {
	gate := newTestRateGate(nil)
	return NewPublishWorker(store, states, &fakeProfileProvider{profiles: profiles}, pub, gate, notifier, nil)
}

func TestPublishWorker_ProcessItem_MissingRecordIsNoop(t *testing.T) {
	store := newFakePendingStore()
	w := newTestWorker(store, newFakeAutomationStateStore(), nil, &fakePublisher{}, &fakeNotifier{})
	w.ProcessItem(context.Background(), "t1", "missing")
	assert.Empty(t, store.records)
}

func TestPublishWorker_ProcessItem_TerminalRecordIsNoop(t *testing.T) {
	store := newFakePendingStore()
	rec := domain.PendingRecord{ID: "slot-1", SlotKey: "slot-1", Status: domain.StatusPublished}
	store.Put(context.Background(), rec)

	w := newTestWorker(store, newFakeAutomationStateStore(), nil, &fakePublisher{}, &fakeNotifier{})
	w.ProcessItem(context.Background(), "t1", "slot-1")

	stored, _ := store.get("slot-1")
	assert.Equal(t, domain.StatusPublished, stored.Status)
}

func TestPublishWorker_ProcessItem_CancelsWhenProfileGone(t *testing.T) {
	store := newFakePendingStore()
	rec := domain.PendingRecord{ID: "slot-1", SlotKey: "slot-1", TargetID: "t1", ProfileKey: "gone", Status: domain.StatusScheduled}
	store.Put(context.Background(), rec)

	w := newTestWorker(store, newFakeAutomationStateStore(), nil, &fakePublisher{}, &fakeNotifier{})
	w.ProcessItem(context.Background(), "t1", "slot-1")

	stored, ok := store.get("slot-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
}

func TestPublishWorker_ProcessItem_SuccessMarksPublishedAndUpdatesState(t *testing.T) {
	store := newFakePendingStore()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.PendingRecord{
		ID: "slot-1", SlotKey: "slot-1", TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: start, Status: domain.StatusQueued,
	}
	store.Put(context.Background(), rec)

	profiles := map[string]domain.Profile{"t1/p1": {TargetID: "t1", ProfileKey: "p1", Duration: time.Hour}}
	pub := &fakePublisher{outcome: domain.PublishOutcome{EventID: "ev-1"}}
	states := newFakeAutomationStateStore()
	notifier := &fakeNotifier{}

	w := newTestWorker(store, states, profiles, pub, notifier)
	w.ProcessItem(context.Background(), "t1", "slot-1")

	stored, ok := store.get("slot-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPublished, stored.Status)
	assert.Equal(t, "ev-1", stored.EventID)

	state, ok := states.Get(context.Background(), "t1", "p1")
	require.True(t, ok)
	assert.Equal(t, 1, state.EventsCreated)
	assert.True(t, state.HasPublished(start))
	assert.Equal(t, "ev-1", state.LastEventID)

	assert.Equal(t, []string{"slot-1"}, notifier.published)
}

func TestPublishWorker_ProcessItem_RateLimitQueuesAndEnqueuesRetry(t *testing.T) {
	store := newFakePendingStore()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.PendingRecord{
		ID: "slot-1", SlotKey: "slot-1", TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: start, Status: domain.StatusScheduled,
	}
	store.Put(context.Background(), rec)

	profiles := map[string]domain.Profile{"t1/p1": {TargetID: "t1", ProfileKey: "p1", Duration: time.Hour}}
	pub := &fakePublisher{err: &domain.RateLimitError{Code: "UPCOMING_LIMIT"}}
	gate := newTestRateGate(nil)
	w := NewPublishWorker(store, newFakeAutomationStateStore(), &fakeProfileProvider{profiles: profiles}, pub, gate, &fakeNotifier{}, nil)

	w.ProcessItem(context.Background(), "t1", "slot-1")

	stored, ok := store.get("slot-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusQueued, stored.Status)
	require.NotNil(t, stored.QueuedAt)
	assert.Equal(t, 1, gate.QueueDepth())
}

func TestPublishWorker_ProcessItem_TransientErrorPersistsAndRetriesAfterDelay(t *testing.T) {
	store := newFakePendingStore()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.PendingRecord{
		ID: "slot-1", SlotKey: "slot-1", TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: start, Status: domain.StatusScheduled,
	}
	store.Put(context.Background(), rec)

	profiles := map[string]domain.Profile{"t1/p1": {TargetID: "t1", ProfileKey: "p1", Duration: time.Hour}}
	pub := &fakePublisher{err: errors.New("network error")}
	w := newTestWorker(store, newFakeAutomationStateStore(), profiles, pub, &fakeNotifier{})

	w.ProcessItem(context.Background(), "t1", "slot-1")

	stored, ok := store.get("slot-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusScheduled, stored.Status, "transient failure leaves status untouched")
}

func TestPublishWorker_NotifySafely_SuppressesPanic(t *testing.T) {
	store := newFakePendingStore()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.PendingRecord{
		ID: "slot-1", SlotKey: "slot-1", TargetID: "t1", ProfileKey: "p1",
		EventStartsAt: start, Status: domain.StatusScheduled,
	}
	store.Put(context.Background(), rec)

	profiles := map[string]domain.Profile{"t1/p1": {TargetID: "t1", ProfileKey: "p1", Duration: time.Hour}}
	pub := &fakePublisher{outcome: domain.PublishOutcome{EventID: "ev-1"}}
	notifier := &fakeNotifier{panicOn: true}
	w := newTestWorker(store, newFakeAutomationStateStore(), profiles, pub, notifier)

	assert.NotPanics(t, func() {
		w.ProcessItem(context.Background(), "t1", "slot-1")
	})
}

func TestMergeDetails_OverridesWinOverProfile(t *testing.T) {
	profile := domain.Profile{Timezone: "UTC", Duration: 30 * time.Minute}
	title := "override title"
	duration := 90
	overrides := &domain.ManualOverrides{Title: &title, DurationMins: &duration}

	details := mergeDetails(profile, overrides, time.Now())
	assert.Equal(t, "override title", details.Title)
	assert.Equal(t, 90, details.DurationMins)
	assert.Equal(t, "UTC", details.Timezone)
}

func TestMergeDetails_NilOverridesUsesProfileOnly(t *testing.T) {
	profile := domain.Profile{Timezone: "UTC", Duration: 45 * time.Minute}
	details := mergeDetails(profile, nil, time.Now())
	assert.Equal(t, "UTC", details.Timezone)
	assert.Equal(t, 45, details.DurationMins)
}

func TestResolveDuration_OverrideWins(t *testing.T) {
	profile := domain.Profile{Duration: time.Hour}
	mins := 15
	got := resolveDuration(profile, &domain.ManualOverrides{DurationMins: &mins})
	assert.Equal(t, 15*time.Minute, got)
}

func TestResolveDuration_FallsBackToProfile(t *testing.T) {
	profile := domain.Profile{Duration: time.Hour}
	got := resolveDuration(profile, nil)
	assert.Equal(t, time.Hour, got)
}
