package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// retryDelay is the single retry interval for a non-rate-limit publish
// failure — a direct C7 call, not C5's recheck ladder.
const retryDelay = 15 * time.Minute

// PublishWorker resolves dynamic details, invokes the external publish
// call, and updates the pending store and automation state (C7).
type PublishWorker struct {
	store     domain.PendingStore
	states    domain.AutomationStateStore
	profiles  domain.ProfileProvider
	publisher domain.Publisher
	gate      *RateGate
	notifier  domain.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewPublishWorker builds a PublishWorker.
func NewPublishWorker(
	store domain.PendingStore,
	states domain.AutomationStateStore,
	profiles domain.ProfileProvider,
	publisher domain.Publisher,
	gate *RateGate,
	notifier domain.Notifier,
	logger *slog.Logger,
) *PublishWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishWorker{
		store:     store,
		states:    states,
		profiles:  profiles,
		publisher: publisher,
		gate:      gate,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessItem runs the seven-step publish algorithm for a single slot key.
// targetID is accepted for symmetry with PublishFunc's signature; the
// record's own TargetID is authoritative. slotKey addresses the record by
// its current slot key, which can differ from its id after a start-time
// override, so lookup goes through GetBySlotKey rather than GetByID.
func (w *PublishWorker) ProcessItem(ctx context.Context, targetID, slotKey string) {
	stored, ok := w.store.GetBySlotKey(ctx, slotKey)
	if !ok {
		return
	}
	rec := stored.Clone()
	if rec.IsTerminal() {
		return
	}

	if rec.Status == domain.StatusQueued {
		rec.Status = domain.StatusScheduled
	}

	profile, ok := w.profiles.GetProfile(ctx, rec.TargetID, rec.ProfileKey)
	if !ok {
		rec.Status = domain.StatusCancelled
		if err := w.store.Put(ctx, rec); err != nil {
			w.logger.Error("failed to persist cancelled record", "slot_key", rec.SlotKey, "error", err)
		}
		return
	}

	details := mergeDetails(profile, rec.ManualOverrides, rec.EventStartsAt)
	duration := resolveDuration(profile, rec.ManualOverrides)
	endsAt := rec.EventStartsAt.Add(duration)

	outcome, err := w.gate.CallPublisher(ctx, w.publisher, rec.TargetID, details, rec.EventStartsAt, endsAt)
	now := w.now()

	switch {
	case err == nil:
		w.handleSuccess(ctx, rec, outcome, now)
	case domain.IsRateLimitError(err):
		w.handleRateLimit(ctx, rec, now)
	default:
		w.handleTransientError(ctx, rec, targetID, slotKey, err)
	}
}

func (w *PublishWorker) handleSuccess(ctx context.Context, rec domain.PendingRecord, outcome domain.PublishOutcome, now time.Time) {
	w.gate.RecordSuccess(rec.TargetID, now)

	rec.Status = domain.StatusPublished
	rec.EventID = outcome.EventID
	if err := w.store.Put(ctx, rec); err != nil {
		w.logger.Error("failed to persist published record", "slot_key", rec.SlotKey, "error", err)
	}

	state, ok := w.states.Get(ctx, rec.TargetID, rec.ProfileKey)
	if !ok {
		state = domain.NewAutomationState(rec.TargetID, rec.ProfileKey)
	}
	state.EventsCreated++
	lastSuccess := now
	state.LastSuccess = &lastSuccess
	state.LastEventID = outcome.EventID
	state.MarkPublished(rec.EventStartsAt)
	if state.ActivationStartsAt == nil {
		t := rec.EventStartsAt
		state.ActivationStartsAt = &t
	}
	if err := w.states.Put(ctx, state); err != nil {
		w.logger.Error("failed to persist automation state", "target_id", rec.TargetID, "profile_key", rec.ProfileKey, "error", err)
	}

	w.notifySafely(func() { w.notifier.OnPublished(ctx, rec, outcome.EventID) })
}

func (w *PublishWorker) handleRateLimit(ctx context.Context, rec domain.PendingRecord, now time.Time) {
	w.gate.RecordRateLimit(rec.TargetID, now)

	rec.Status = domain.StatusQueued
	queuedAt := now
	rec.QueuedAt = &queuedAt
	if err := w.store.Put(ctx, rec); err != nil {
		w.logger.Error("failed to persist queued record", "slot_key", rec.SlotKey, "error", err)
	}
	w.gate.Enqueue(rec.SlotKey, rec.TargetID, rec.EventStartsAt)
}

func (w *PublishWorker) handleTransientError(ctx context.Context, rec domain.PendingRecord, targetID, slotKey string, err error) {
	w.logger.Warn("transient publish failure, retrying", "slot_key", rec.SlotKey, "target_id", rec.TargetID, "error", err)
	if putErr := w.store.Put(ctx, rec); putErr != nil {
		w.logger.Error("failed to persist record after transient error", "slot_key", rec.SlotKey, "error", putErr)
	}
	time.AfterFunc(retryDelay, func() {
		w.ProcessItem(context.Background(), targetID, slotKey)
	})
}

func (w *PublishWorker) notifySafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("notifier panicked, suppressing", "recover", r)
		}
	}()
	fn()
}

// mergeDetails merges a profile's static fields with a record's manual
// overrides, overrides winning.
func mergeDetails(profile domain.Profile, overrides *domain.ManualOverrides, eventStartsAt time.Time) domain.EventDetails {
	details := domain.EventDetails{
		Timezone:      profile.Timezone,
		EventStartsAt: eventStartsAt,
		DurationMins:  int(profile.Duration / time.Minute),
	}
	if overrides == nil {
		return details
	}
	if overrides.Title != nil {
		details.Title = *overrides.Title
	}
	if overrides.Description != nil {
		details.Description = *overrides.Description
	}
	if overrides.Category != nil {
		details.Category = *overrides.Category
	}
	if overrides.AccessType != nil {
		details.AccessType = *overrides.AccessType
	}
	if len(overrides.Languages) > 0 {
		details.Languages = overrides.Languages
	}
	if len(overrides.Platforms) > 0 {
		details.Platforms = overrides.Platforms
	}
	if len(overrides.Tags) > 0 {
		details.Tags = overrides.Tags
	}
	if overrides.ImageID != nil {
		details.ImageID = *overrides.ImageID
	}
	if overrides.ImageURL != nil {
		details.ImageURL = *overrides.ImageURL
	}
	if len(overrides.RoleIDs) > 0 {
		details.RoleIDs = overrides.RoleIDs
	}
	if overrides.DurationMins != nil {
		details.DurationMins = *overrides.DurationMins
	}
	if overrides.Timezone != nil {
		details.Timezone = *overrides.Timezone
	}
	if overrides.EventStartsAt != nil {
		details.EventStartsAt = *overrides.EventStartsAt
	}
	return details
}

// resolveDuration returns the event duration, honoring a manual override.
func resolveDuration(profile domain.Profile, overrides *domain.ManualOverrides) time.Duration {
	if overrides != nil && overrides.DurationMins != nil {
		return time.Duration(*overrides.DurationMins) * time.Minute
	}
	return profile.Duration
}
