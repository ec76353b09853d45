// Package application implements the publishing engine as a single-writer
// actor: Engine owns one mutex covering all C2/C3/C5/C6/C9 state and
// exposes the C8 control surface plus the read-only queries.
package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/application/commands"
	"github.com/cynacedia/pubkeeper/internal/publishing/application/queries"
	"github.com/cynacedia/pubkeeper/internal/publishing/application/services"
	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/cynacedia/pubkeeper/pkg/observability"
)

// Config bundles the Engine's collaborators and tunables. Fields left zero
// get sane defaults (see NewEngine).
type Config struct {
	Store     domain.PendingStore
	States    domain.AutomationStateStore
	Profiles  domain.ProfileProvider
	Expander  domain.SlotExpander
	Publisher domain.Publisher
	Notifier  domain.Notifier
	Logger    *slog.Logger
	Metrics   observability.Metrics

	AfterModeBasis         services.AfterModeBasis
	BreakerSettings        services.BreakerSettings
	ExpansionHorizonMonths int
	Now                    func() time.Time
}

// Engine is the publishing engine's single-writer facade.
type Engine struct {
	mu sync.Mutex

	store    domain.PendingStore
	states   domain.AutomationStateStore
	notifier domain.Notifier
	logger   *slog.Logger
	now      func() time.Time

	normalizer *services.Normalizer
	scheduler  *services.Scheduler
	gate       *services.RateGate
	worker     *services.PublishWorker

	deps *commands.Deps

	knownTargets map[string]struct{}
}

// NewEngine wires every collaborator together: the rate gate's processor
// calls the publish worker, the publish worker calls back into the rate
// gate for the breaker-wrapped transport call, and the scheduler's final
// tier hands off into the rate gate's admission queue.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	breakerSettings := cfg.BreakerSettings
	if breakerSettings == (services.BreakerSettings{}) {
		breakerSettings = services.DefaultBreakerSettings()
	}

	calc := services.NewPublishTimeCalculator(cfg.AfterModeBasis)
	normalizer := services.NewNormalizer(calc, cfg.Profiles)

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	var worker *services.PublishWorker
	gate := services.NewRateGate(func(ctx context.Context, targetID, slotKey string) {
		worker.ProcessItem(ctx, targetID, slotKey)
	}, logger, breakerSettings)
	gate.SetMetrics(metrics)
	worker = services.NewPublishWorker(cfg.Store, cfg.States, cfg.Profiles, cfg.Publisher, gate, cfg.Notifier, logger)

	e := &Engine{
		store:      cfg.Store,
		states:     cfg.States,
		notifier:   cfg.Notifier,
		logger:     logger,
		now:        nowFn,
		normalizer: normalizer,
		gate:       gate,
		worker:     worker,
	}

	lookup := func(slotKey string) (domain.PendingRecord, bool) {
		rec, ok := cfg.Store.GetBySlotKey(context.Background(), slotKey)
		if !ok {
			return domain.PendingRecord{}, false
		}
		return *rec, true
	}
	onMissed := func(ctx context.Context, rec domain.PendingRecord) {
		e.markMissed(ctx, rec)
	}
	onReady := func(ctx context.Context, rec domain.PendingRecord) {
		gate.Enqueue(rec.SlotKey, rec.TargetID, rec.EventStartsAt)
	}
	e.scheduler = services.NewScheduler(lookup, onMissed, onReady, logger)

	e.deps = &commands.Deps{
		Store:                  cfg.Store,
		States:                 cfg.States,
		Profiles:               cfg.Profiles,
		Expander:               cfg.Expander,
		Calc:                   calc,
		Scheduler:              e.scheduler,
		Gate:                   gate,
		Worker:                 worker,
		Notifier:               cfg.Notifier,
		Logger:                 logger,
		Now:                    nowFn,
		ExpansionHorizonMonths: cfg.ExpansionHorizonMonths,
	}

	return e
}

// markMissed flips a record to missed, persists it, and notifies (the
// scheduler's onMissed callback).
func (e *Engine) markMissed(ctx context.Context, rec domain.PendingRecord) {
	now := e.now()
	rec.Status = domain.StatusMissed
	rec.MissedAt = &now
	if err := e.store.Put(ctx, rec); err != nil {
		e.logger.Error("failed to persist missed record", "slot_key", rec.SlotKey, "error", err)
	}
	if err := e.store.Save(ctx); err != nil {
		e.logger.Error("failed to save store after missed transition", "error", err)
	}
	e.notifySafely(func() { e.notifier.OnMissed(ctx, rec) })
}

func (e *Engine) notifySafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notifier panicked, suppressing", "recover", r)
		}
	}()
	fn()
}

// Init loads persisted state, runs normalization (C3), and arms timers for
// every live record, detecting anything already missed.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Load(ctx); err != nil {
		return err
	}
	if err := e.states.Load(ctx); err != nil {
		return err
	}

	pending, err := e.store.AllPending(ctx)
	if err != nil {
		return err
	}
	deleted, err := e.store.AllDeleted(ctx)
	if err != nil {
		return err
	}

	newPending, newDeleted, changed := e.normalizer.Normalize(ctx, pending, deleted, e.knownTargets)
	if changed {
		dropped := len(pending) - len(newPending)
		e.logger.Info("normalization dropped records", "count", dropped)
		if err := e.store.ReplaceAll(ctx, newPending, newDeleted); err != nil {
			return err
		}
		if err := e.store.Save(ctx); err != nil {
			return err
		}
	}

	live, err := e.store.AllPending(ctx)
	if err != nil {
		return err
	}
	e.scheduler.ScheduleAll(ctx, live)
	return nil
}

// SetKnownTargets implements C8 SetKnownTargets.
func (e *Engine) SetKnownTargets(ctx context.Context, ids []string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ids != nil {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		e.knownTargets = set
	}
	return commands.SetKnownTargets(ctx, e.deps, ids)
}

// UpdatePendingForProfile implements C8 UpdatePendingForProfile.
func (e *Engine) UpdatePendingForProfile(ctx context.Context, targetID, profileKey string, profile domain.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.UpdatePendingForProfile(ctx, e.deps, targetID, profileKey, profile)
}

// RecordManualEvent implements C8 RecordManualEvent.
func (e *Engine) RecordManualEvent(ctx context.Context, targetID, profileKey string, startsAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.RecordManualEvent(ctx, e.deps, targetID, profileKey, startsAt)
}

// ReconcilePublished implements C8 ReconcilePublished.
func (e *Engine) ReconcilePublished(ctx context.Context, targetID string, upcoming []commands.RealEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.ReconcilePublished(ctx, e.deps, targetID, upcoming)
}

// ApplyOverrides implements C8 ApplyOverrides.
func (e *Engine) ApplyOverrides(ctx context.Context, id string, overrides domain.ManualOverrides) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.ApplyOverrides(ctx, e.deps, id, overrides)
}

// ActOnMissed implements C8 ActOnMissed.
func (e *Engine) ActOnMissed(ctx context.Context, id, action string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.ActOnMissed(ctx, e.deps, id, action)
}

// RestoreDeleted implements C8 RestoreDeleted.
func (e *Engine) RestoreDeleted(ctx context.Context, targetID, profileKey string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.RestoreDeleted(ctx, e.deps, targetID, profileKey)
}

// PurgeProfile implements C8 PurgeProfile.
func (e *Engine) PurgeProfile(ctx context.Context, targetID, profileKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return commands.PurgeProfile(ctx, e.deps, targetID, profileKey)
}

// GetPending is the read-only pending-list query.
func (e *Engine) GetPending(ctx context.Context, targetID string) ([]domain.PendingRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return queries.GetPending(ctx, e.store, targetID)
}

// GetMissedQueuedCount is the read-only missed/queued diagnostic query.
func (e *Engine) GetMissedQueuedCount(ctx context.Context, targetID string) (missed, queued int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return queries.GetMissedQueuedCount(ctx, e.store, targetID)
}

// Stats reports scheduler and rate-gate diagnostics, useful for the
// /healthz endpoint.
type Stats struct {
	ActiveTimers int
	QueueDepth   int
}

// Stats returns a snapshot of scheduler and rate-gate activity.
func (e *Engine) Stats() Stats {
	return Stats{
		ActiveTimers: e.scheduler.ActiveTimerCount(),
		QueueDepth:   e.gate.QueueDepth(),
	}
}
