package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// wireAutomationState mirrors the automationState file's per-profile shape.
type wireAutomationState struct {
	EventsCreated       int        `json:"eventsCreated"`
	ActivationStartsAt  *time.Time `json:"activationStartsAt,omitempty"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastEventID         string     `json:"lastEventId,omitempty"`
	PublishedEventTimes []int64    `json:"publishedEventTimes"`
}

type automationDocument struct {
	Profiles map[string]wireAutomationState `json:"profiles"`
}

func stateKey(targetID, profileKey string) string {
	return targetID + "::" + profileKey
}

// AutomationStateStore is the JSON-document implementation of
// domain.AutomationStateStore.
type AutomationStateStore struct {
	mu     sync.RWMutex
	path   string
	states map[string]*domain.AutomationState
}

// NewAutomationStateStore returns a store backed by the JSON file at path.
func NewAutomationStateStore(path string) *AutomationStateStore {
	return &AutomationStateStore{
		path:   path,
		states: make(map[string]*domain.AutomationState),
	}
}

// Load reads the document into memory.
func (s *AutomationStateStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read automation state: %w", err)
	}

	var doc automationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse automation state: %w", err)
	}

	s.states = make(map[string]*domain.AutomationState, len(doc.Profiles))
	for key, w := range doc.Profiles {
		targetID, profileKey := splitStateKey(key)
		state := &domain.AutomationState{
			TargetID:            targetID,
			ProfileKey:          profileKey,
			EventsCreated:       w.EventsCreated,
			ActivationStartsAt:  w.ActivationStartsAt,
			LastSuccess:         w.LastSuccess,
			LastEventID:         w.LastEventID,
			PublishedEventTimes: make(map[int64]struct{}, len(w.PublishedEventTimes)),
		}
		for _, millis := range w.PublishedEventTimes {
			state.PublishedEventTimes[millis] = struct{}{}
		}
		s.states[key] = state
	}
	return nil
}

func splitStateKey(key string) (targetID, profileKey string) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == ':' && key[i+1] == ':' {
			return key[:i], key[i+2:]
		}
	}
	return key, ""
}

// Save writes the current in-memory state atomically.
func (s *AutomationStateStore) Save(ctx context.Context) error {
	s.mu.RLock()
	doc := automationDocument{Profiles: make(map[string]wireAutomationState, len(s.states))}
	for key, state := range s.states {
		times := make([]int64, 0, len(state.PublishedEventTimes))
		for millis := range state.PublishedEventTimes {
			times = append(times, millis)
		}
		doc.Profiles[key] = wireAutomationState{
			EventsCreated:       state.EventsCreated,
			ActivationStartsAt:  state.ActivationStartsAt,
			LastSuccess:         state.LastSuccess,
			LastEventID:         state.LastEventID,
			PublishedEventTimes: times,
		}
	}
	s.mu.RUnlock()

	return writeJSONAtomic(s.path, doc)
}

// Get returns the automation state for (targetID, profileKey).
func (s *AutomationStateStore) Get(ctx context.Context, targetID, profileKey string) (*domain.AutomationState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey(targetID, profileKey)]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Put upserts state.
func (s *AutomationStateStore) Put(ctx context.Context, state *domain.AutomationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(state.TargetID, state.ProfileKey)] = state.Clone()
	return nil
}

// Delete removes the automation state for (targetID, profileKey).
func (s *AutomationStateStore) Delete(ctx context.Context, targetID, profileKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(targetID, profileKey))
	return nil
}

// All returns every automation state.
func (s *AutomationStateStore) All(ctx context.Context) ([]*domain.AutomationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AutomationState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state.Clone())
	}
	return out, nil
}
