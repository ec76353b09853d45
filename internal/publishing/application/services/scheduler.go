package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// recheck ladder tiers: the scheduler never arms a timer longer than 24h,
// so long suspends and clock jumps are bounded by the outermost tier
// rather than by a single multi-day sleep.
const (
	recheckTierOutermost = 24 * time.Hour
	recheckTierMiddle    = 8 * time.Hour
	recheckTierInner     = 2 * time.Hour

	recheckThresholdOutermost = 7 * 24 * time.Hour
	recheckThresholdMiddle    = 2 * 24 * time.Hour
	recheckThresholdInner     = 24 * time.Hour
)

// Scheduler maintains an in-memory slotKey → timer map with adaptive
// recheck and missed detection (C5). Wall-clock deadlines are re-evaluated
// on every fire, never relying on a monotonic multi-day sleep.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	now    func() time.Time
	lookup func(slotKey string) (domain.PendingRecord, bool)

	onMissed func(ctx context.Context, rec domain.PendingRecord)
	onReady  func(ctx context.Context, rec domain.PendingRecord)

	logger *slog.Logger
}

// NewScheduler builds a Scheduler. lookup must return the current state of
// a slot key (it may have changed since Schedule was first called — an
// override, a cancel, a publish); onMissed fires when a record's publish
// time has passed; onReady fires when a record enters its final tier and
// should be handed to the rate gate (C6).
func NewScheduler(
	lookup func(slotKey string) (domain.PendingRecord, bool),
	onMissed func(ctx context.Context, rec domain.PendingRecord),
	onReady func(ctx context.Context, rec domain.PendingRecord),
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		timers:   make(map[string]*time.Timer),
		now:      time.Now,
		lookup:   lookup,
		onMissed: onMissed,
		onReady:  onReady,
		logger:   logger,
	}
}

// Schedule arms (or re-arms) the timer for rec. If rec's publish time has
// already passed, it fires onMissed immediately instead.
func (s *Scheduler) Schedule(ctx context.Context, rec domain.PendingRecord) {
	s.mu.Lock()
	s.clearTimerLocked(rec.SlotKey)

	now := s.now()
	if !rec.ScheduledPublishTime.After(now) {
		s.mu.Unlock()
		s.onMissed(ctx, rec)
		return
	}

	delay := rec.ScheduledPublishTime.Sub(now)
	tier, final := recheckTier(delay)

	slotKey := rec.SlotKey
	timer := time.AfterFunc(tier, func() {
		s.fire(ctx, slotKey, final)
	})
	s.timers[slotKey] = timer
	s.mu.Unlock()
}

// recheckTier maps a delay to its ladder tier and whether it is the final
// (exact) tier that should hand off to the rate gate on fire.
func recheckTier(delay time.Duration) (tier time.Duration, final bool) {
	switch {
	case delay > recheckThresholdOutermost:
		return recheckTierOutermost, false
	case delay > recheckThresholdMiddle:
		return recheckTierMiddle, false
	case delay > recheckThresholdInner:
		return recheckTierInner, false
	default:
		return delay, true
	}
}

func (s *Scheduler) fire(ctx context.Context, slotKey string, final bool) {
	s.mu.Lock()
	delete(s.timers, slotKey)
	s.mu.Unlock()

	rec, ok := s.lookup(slotKey)
	if !ok {
		return
	}
	if rec.Status != domain.StatusScheduled {
		// cancelled, published, restored elsewhere, etc. since arming.
		return
	}

	if final {
		s.onReady(ctx, rec)
		return
	}
	s.Schedule(ctx, rec)
}

// Cancel clears the timer for slotKey, if any.
func (s *Scheduler) Cancel(slotKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearTimerLocked(slotKey)
}

func (s *Scheduler) clearTimerLocked(slotKey string) {
	if t, ok := s.timers[slotKey]; ok {
		t.Stop()
		delete(s.timers, slotKey)
	}
}

// ScheduleAll arms timers for every scheduled record, implementing
// missed-on-start: a record whose publish time is already in the past goes
// to onMissed instead of being armed. Records are handled in the order
// given.
func (s *Scheduler) ScheduleAll(ctx context.Context, recs []domain.PendingRecord) {
	for _, rec := range recs {
		if rec.Status != domain.StatusScheduled {
			continue
		}
		s.Schedule(ctx, rec)
	}
}

// ActiveTimerCount reports how many timers are currently armed (diagnostics).
func (s *Scheduler) ActiveTimerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
