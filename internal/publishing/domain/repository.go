package domain

import (
	"context"
	"time"
)

// PendingStore is the durable mapping of slot-key → pending record plus the
// soft-delete pool (C2). Read paths are synchronous; callers serialize
// writes via the engine's single mutex.
type PendingStore interface {
	// Load reads the backing document, drops past-dated deleted entries,
	// and leaves normalization to the caller.
	Load(ctx context.Context) error
	// Save persists the current in-memory state as one atomic document.
	Save(ctx context.Context) error

	// GetPending returns every record for a target, or every target when
	// targetID is empty, including terminal (published/cancelled) ones;
	// internal callers need those to detect slot-key clashes and already-
	// published records. application/queries.GetPending is the spec's
	// live-only (C8) view and filters terminal statuses itself.
	GetPending(ctx context.Context, targetID string) ([]PendingRecord, error)
	// AllPending returns every pending record regardless of target,
	// including terminal ones; used by normalization and reconciliation.
	AllPending(ctx context.Context) ([]PendingRecord, error)
	GetByID(ctx context.Context, id string) (*PendingRecord, bool)
	// GetBySlotKey looks a record up by its current slot key, which is the
	// scheduler, rate gate, and publish worker's addressing scheme. A
	// record's slot key can drift from its id after a start-time override
	// (ApplyOverrides rebuilds slotKey but never id), so this is not
	// equivalent to GetByID.
	GetBySlotKey(ctx context.Context, slotKey string) (*PendingRecord, bool)
	GetDeleted(ctx context.Context, targetID string) ([]PendingRecord, error)
	AllDeleted(ctx context.Context) ([]PendingRecord, error)

	Put(ctx context.Context, rec PendingRecord) error
	// ReplaceAll atomically swaps the pending and deleted sets, used by
	// normalization which recomputes both in one pass.
	ReplaceAll(ctx context.Context, pending, deleted []PendingRecord) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*PendingRecord, bool)
	// DeleteIDs permanently removes records (purge, garbage collection).
	DeleteIDs(ctx context.Context, ids []string) error

	CountMissedOrQueued(ctx context.Context, targetID string) (missed, queued int, err error)

	DisplayLimit() int
	SetDisplayLimit(int)
}

// AutomationStateStore persists per-profile AutomationState (C9).
type AutomationStateStore interface {
	Load(ctx context.Context) error
	Save(ctx context.Context) error
	Get(ctx context.Context, targetID, profileKey string) (*AutomationState, bool)
	Put(ctx context.Context, state *AutomationState) error
	Delete(ctx context.Context, targetID, profileKey string) error
	All(ctx context.Context) ([]*AutomationState, error)
}

// SlotExpander is the external pure function C1: pattern date-math is out
// of scope for the engine; this is its narrow interface.
type SlotExpander interface {
	ExpandPatterns(ctx context.Context, patterns []string, monthsAhead int, timezone string) ([]Slot, error)
}

// PublishOutcome is the successful result of a PublishEvent call.
type PublishOutcome struct {
	EventID string
}

// Publisher is the outbound call C7 makes to commit an event to the remote
// endpoint. A non-nil error is either a *RateLimitError or any other
// error, treated as a transient failure.
type Publisher interface {
	PublishEvent(ctx context.Context, targetID string, details EventDetails, startsAt, endsAt time.Time) (PublishOutcome, error)
}

// Notifier fans out the fire-and-forget onMissed/onPublished
// notifications. Implementations must not panic or block the engine.
type Notifier interface {
	OnMissed(ctx context.Context, rec PendingRecord)
	OnPublished(ctx context.Context, rec PendingRecord, eventID string)
}
