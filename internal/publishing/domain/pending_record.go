package domain

import "time"

// Status is the lifecycle state of a PendingRecord.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusMissed    Status = "missed"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
)

// IsValid reports whether s is one of the six recognized statuses. An
// unknown status resets to scheduled during normalization.
func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusQueued, StatusMissed, StatusPublished, StatusCancelled, StatusDeleted:
		return true
	default:
		return false
	}
}

// dedupPriority ranks a status for the dedup rule: within an equivalence
// class of colliding slot keys, the highest-priority record survives.
// Order: published > manualOverrides (handled by the caller,
// which checks this before falling back to status) > queued > scheduled >
// missed > others.
func (s Status) dedupPriority() int {
	switch s {
	case StatusPublished:
		return 5
	case StatusQueued:
		return 3
	case StatusScheduled:
		return 2
	case StatusMissed:
		return 1
	default:
		return 0
	}
}

// ManualOverrides is the recognized attribute bag a user may apply to a
// pending record. Nil pointer fields mean "not overridden".
type ManualOverrides struct {
	Title         *string
	Description   *string
	Category      *string
	AccessType    *string
	Languages     []string
	Platforms     []string
	Tags          []string
	ImageID       *string
	ImageURL      *string
	RoleIDs       []string
	DurationMins  *int
	Timezone      *string
	EventStartsAt *time.Time
}

// IsZero reports whether no fields are overridden.
func (m *ManualOverrides) IsZero() bool {
	if m == nil {
		return true
	}
	return m.Title == nil && m.Description == nil && m.Category == nil &&
		m.AccessType == nil && len(m.Languages) == 0 && len(m.Platforms) == 0 &&
		len(m.Tags) == 0 && m.ImageID == nil && m.ImageURL == nil &&
		len(m.RoleIDs) == 0 && m.DurationMins == nil && m.Timezone == nil &&
		m.EventStartsAt == nil

}

// PendingRecord is a C2 entry: a persisted slot with a computed publish
// time and a lifecycle status.
type PendingRecord struct {
	// ID is the slot key at creation time; it never changes once assigned.
	ID string
	// SlotKey may differ from ID after the user overrides the start time.
	SlotKey string

	TargetID   string
	ProfileKey string

	EventStartsAt time.Time

	// ScheduledPublishTime is absent (zero) only when Status is published.
	ScheduledPublishTime time.Time

	ManualOverrides *ManualOverrides

	Status Status

	MissedAt  *time.Time
	QueuedAt  *time.Time
	DeletedAt *time.Time

	EventID string
}

// Clone returns a deep-enough copy so callers can mutate the result
// without aliasing engine-owned state: readers returning snapshots must
// copy, not alias, the store.
func (r PendingRecord) Clone() PendingRecord {
	c := r
	if r.ManualOverrides != nil {
		ov := *r.ManualOverrides
		ov.Languages = append([]string(nil), r.ManualOverrides.Languages...)
		ov.Platforms = append([]string(nil), r.ManualOverrides.Platforms...)
		ov.Tags = append([]string(nil), r.ManualOverrides.Tags...)
		ov.RoleIDs = append([]string(nil), r.ManualOverrides.RoleIDs...)
		c.ManualOverrides = &ov
	}
	if r.MissedAt != nil {
		t := *r.MissedAt
		c.MissedAt = &t
	}
	if r.QueuedAt != nil {
		t := *r.QueuedAt
		c.QueuedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

// IsTerminal reports whether the record's status never transitions again
// under normal operation (published, cancelled).
func (r PendingRecord) IsTerminal() bool {
	return r.Status == StatusPublished || r.Status == StatusCancelled
}

// Beats reports whether r should survive a slot-key collision against
// other, per dedup priority (manualOverrides beats a bare status
// comparison when neither is published).
func (r PendingRecord) Beats(other PendingRecord) bool {
	if r.Status == StatusPublished && other.Status != StatusPublished {
		return true
	}
	if other.Status == StatusPublished && r.Status != StatusPublished {
		return false
	}
	rHasOverrides := !r.ManualOverrides.IsZero()
	oHasOverrides := !other.ManualOverrides.IsZero()
	if rHasOverrides != oHasOverrides {
		return rHasOverrides
	}
	return r.Status.dedupPriority() >= other.Status.dedupPriority()
}
