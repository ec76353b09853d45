package commands

import (
	"context"
	"sync"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/application/services"
	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	pending map[string]domain.PendingRecord
	deleted map[string]domain.PendingRecord
	limit   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{pending: make(map[string]domain.PendingRecord), deleted: make(map[string]domain.PendingRecord)}
}

func (s *fakeStore) Load(context.Context) error { return nil }
func (s *fakeStore) Save(context.Context) error { return nil }

func (s *fakeStore) GetPending(_ context.Context, targetID string) ([]domain.PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingRecord
	for _, rec := range s.pending {
		if targetID == "" || rec.TargetID == targetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) AllPending(context.Context) ([]domain.PendingRecord, error) {
	return s.GetPending(context.Background(), "")
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	clone := rec.Clone()
	return &clone, true
}

func (s *fakeStore) GetBySlotKey(_ context.Context, slotKey string) (*domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.pending {
		if rec.SlotKey == slotKey {
			clone := rec.Clone()
			return &clone, true
		}
	}
	return nil, false
}

func (s *fakeStore) GetDeleted(_ context.Context, targetID string) ([]domain.PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingRecord
	for _, rec := range s.deleted {
		if targetID == "" || rec.TargetID == targetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) AllDeleted(context.Context) ([]domain.PendingRecord, error) {
	return s.GetDeleted(context.Background(), "")
}

func (s *fakeStore) Put(_ context.Context, rec domain.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.ID] = rec
	return nil
}

func (s *fakeStore) ReplaceAll(_ context.Context, pending, deleted []domain.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]domain.PendingRecord, len(pending))
	for _, rec := range pending {
		s.pending[rec.ID] = rec
	}
	s.deleted = make(map[string]domain.PendingRecord, len(deleted))
	for _, rec := range deleted {
		s.deleted[rec.ID] = rec
	}
	return nil
}

func (s *fakeStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	now := time.Now()
	rec.Status = domain.StatusDeleted
	rec.DeletedAt = &now
	s.deleted[id] = rec
	return nil
}

func (s *fakeStore) Restore(_ context.Context, id string) (*domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.deleted[id]
	if !ok {
		return nil, false
	}
	delete(s.deleted, id)
	s.pending[id] = rec
	clone := rec.Clone()
	return &clone, true
}

func (s *fakeStore) DeleteIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
		delete(s.deleted, id)
	}
	return nil
}

func (s *fakeStore) CountMissedOrQueued(_ context.Context, targetID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	missed, queued := 0, 0
	for _, rec := range s.pending {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		switch rec.Status {
		case domain.StatusMissed:
			missed++
		case domain.StatusQueued:
			queued++
		}
	}
	return missed, queued, nil
}

func (s *fakeStore) DisplayLimit() int    { return s.limit }
func (s *fakeStore) SetDisplayLimit(n int) { s.limit = n }

type fakeStates struct {
	mu     sync.Mutex
	states map[string]*domain.AutomationState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*domain.AutomationState)}
}

func stateKey(targetID, profileKey string) string { return targetID + "/" + profileKey }

func (s *fakeStates) Load(context.Context) error { return nil }
func (s *fakeStates) Save(context.Context) error { return nil }

func (s *fakeStates) Get(_ context.Context, targetID, profileKey string) (*domain.AutomationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey(targetID, profileKey)]
	return st, ok
}

func (s *fakeStates) Put(_ context.Context, state *domain.AutomationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(state.TargetID, state.ProfileKey)] = state
	return nil
}

func (s *fakeStates) Delete(_ context.Context, targetID, profileKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(targetID, profileKey))
	return nil
}

func (s *fakeStates) All(context.Context) ([]*domain.AutomationState, error) { return nil, nil }

type fakeProfiles struct {
	profiles map[string]domain.Profile
}

func (f *fakeProfiles) GetProfile(_ context.Context, targetID, profileKey string) (domain.Profile, bool) {
	p, ok := f.profiles[stateKey(targetID, profileKey)]
	return p, ok
}

type fakeExpander struct {
	slots []domain.Slot
	err   error
}

func (f *fakeExpander) ExpandPatterns(context.Context, []string, int, string) ([]domain.Slot, error) {
	return f.slots, f.err
}

type fakePublisher struct {
	outcome domain.PublishOutcome
	err     error
}

func (f *fakePublisher) PublishEvent(context.Context, string, domain.EventDetails, time.Time, time.Time) (domain.PublishOutcome, error) {
	return f.outcome, f.err
}

type fakeNotifier struct {
	mu        sync.Mutex
	missed    []string
	published []string
}

func (n *fakeNotifier) OnMissed(_ context.Context, rec domain.PendingRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, rec.SlotKey)
}

func (n *fakeNotifier) OnPublished(_ context.Context, rec domain.PendingRecord, eventID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, rec.SlotKey)
}

// newTestDeps builds a Deps with real Scheduler/RateGate/PublishWorker wired
// over the given fakes, the same way Engine wires them in production.
func newTestDeps(store *fakeStore, states *fakeStates, profiles *fakeProfiles, expander *fakeExpander, publisher domain.Publisher, notifier domain.Notifier, now func() time.Time) *Deps {
	calc := services.NewPublishTimeCalculator("")

	var worker *services.PublishWorker
	gate := services.NewRateGate(func(ctx context.Context, targetID, slotKey string) {
		worker.ProcessItem(ctx, targetID, slotKey)
	}, nil, services.DefaultBreakerSettings())
	worker = services.NewPublishWorker(store, states, profiles, publisher, gate, notifier, nil)

	lookup := func(slotKey string) (domain.PendingRecord, bool) {
		rec, ok := store.GetBySlotKey(context.Background(), slotKey)
		if !ok {
			return domain.PendingRecord{}, false
		}
		return *rec, true
	}
	sched := services.NewScheduler(lookup, func(ctx context.Context, rec domain.PendingRecord) {
		rec.Status = domain.StatusMissed
		now := time.Now()
		rec.MissedAt = &now
		store.Put(ctx, rec)
		notifier.OnMissed(ctx, rec)
	}, func(ctx context.Context, rec domain.PendingRecord) {
		gate.Enqueue(rec.SlotKey, rec.TargetID, rec.EventStartsAt)
	}, nil)

	return &Deps{
		Store:     store,
		States:    states,
		Profiles:  profiles,
		Expander:  expander,
		Calc:      calc,
		Scheduler: sched,
		Gate:      gate,
		Worker:    worker,
		Notifier:  notifier,
		Now:       now,
	}
}
