// Package commands implements the eight Control API operations (C8) as
// free functions over a shared Deps bundle. application.Engine calls these
// while holding its single mutex; none of them locks on their own.
package commands

import (
	"log/slog"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/application/services"
	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// defaultExpansionHorizonMonths bounds how far ahead UpdatePendingForProfile
// asks the slot expander to materialize (C1 is external date math; the
// engine only bounds how much of it to pull in at once).
const defaultExpansionHorizonMonths = 3

// Deps bundles the collaborators every command operates on.
type Deps struct {
	Store     domain.PendingStore
	States    domain.AutomationStateStore
	Profiles  domain.ProfileProvider
	Expander  domain.SlotExpander
	Calc      *services.PublishTimeCalculator
	Scheduler *services.Scheduler
	Gate      *services.RateGate
	Worker    *services.PublishWorker
	Notifier  domain.Notifier
	Logger    *slog.Logger

	Now                    func() time.Time
	ExpansionHorizonMonths int
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) horizonMonths() int {
	if d.ExpansionHorizonMonths > 0 {
		return d.ExpansionHorizonMonths
	}
	return defaultExpansionHorizonMonths
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
