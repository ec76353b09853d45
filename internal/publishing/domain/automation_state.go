package domain

import "time"

// AutomationState is the per-profile counters, activation anchor, last
// success, and published-times set.
type AutomationState struct {
	TargetID   string
	ProfileKey string

	EventsCreated int

	// ActivationStartsAt is the anchor: no slot at or before this instant is
	// ever materialized for this profile.
	ActivationStartsAt *time.Time

	LastSuccess *time.Time
	LastEventID string

	// PublishedEventTimes holds event-start millis that have already been
	// published; a slot key there is never materialized again. Keyed by
	// millis, not slot key, to match the wire format
	// `publishedEventTimes:[millis]`.
	PublishedEventTimes map[int64]struct{}
}

// NewAutomationState returns a zero-value state for a profile.
func NewAutomationState(targetID, profileKey string) *AutomationState {
	return &AutomationState{
		TargetID:            targetID,
		ProfileKey:          profileKey,
		PublishedEventTimes: make(map[int64]struct{}),
	}
}

// HasPublished reports whether eventStartsAt was already published.
func (s *AutomationState) HasPublished(eventStartsAt time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s.PublishedEventTimes[eventStartsAt.UTC().UnixMilli()]
	return ok
}

// MarkPublished records eventStartsAt as published.
func (s *AutomationState) MarkPublished(eventStartsAt time.Time) {
	if s.PublishedEventTimes == nil {
		s.PublishedEventTimes = make(map[int64]struct{})
	}
	s.PublishedEventTimes[eventStartsAt.UTC().UnixMilli()] = struct{}{}
}

// AdvanceAnchor sets the anchor to startsAt only if it strictly precedes
// the current anchor, or no anchor exists yet: the anchor monotonicity
// law means it never advances forward.
func (s *AutomationState) AdvanceAnchor(startsAt time.Time) {
	if s.ActivationStartsAt == nil || startsAt.Before(*s.ActivationStartsAt) {
		t := startsAt
		s.ActivationStartsAt = &t
	}
}

// Clone returns a deep copy so callers cannot alias engine-owned state.
func (s *AutomationState) Clone() *AutomationState {
	if s == nil {
		return nil
	}
	c := *s
	if s.ActivationStartsAt != nil {
		t := *s.ActivationStartsAt
		c.ActivationStartsAt = &t
	}
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		c.LastSuccess = &t
	}
	c.PublishedEventTimes = make(map[int64]struct{}, len(s.PublishedEventTimes))
	for k, v := range s.PublishedEventTimes {
		c.PublishedEventTimes[k] = v
	}
	return &c
}
