// Package services implements the publishing engine's stateful collaborators:
// the publish-time calculator (C4), the normalizer (C3), the scheduler (C5),
// the rate-limit gate and priority queue (C6), and the publish worker (C7).
package services

import (
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// AfterModeBasis chooses what the after-mode calculator treats as the
// "previous slot" when no previous slot is passed in. See DESIGN.md for
// the decision record. When the profile has no lastSuccess, both bases
// anchor on the current instant.
type AfterModeBasis string

const (
	// AfterModeBasisWallClock always uses the current instant as the
	// previous anchor; lastSuccess is not consulted. Default.
	AfterModeBasisWallClock AfterModeBasis = "wall_clock"
	// AfterModeBasisPreviousEventEnd uses lastSuccess as the previous
	// anchor, and the current instant when lastSuccess is unset.
	AfterModeBasisPreviousEventEnd AfterModeBasis = "previous_event_end"
)

// hardCapLead is the minimum lead time a publish instant must keep ahead of
// the event start.
const hardCapLead = 30 * time.Minute

// PublishTimeCalculator derives a publish instant from an event start and a
// profile's automation settings (C4).
type PublishTimeCalculator struct {
	afterModeBasis AfterModeBasis
}

// NewPublishTimeCalculator builds a calculator with the given after-mode
// first-slot basis (empty defaults to wall-clock).
func NewPublishTimeCalculator(basis AfterModeBasis) *PublishTimeCalculator {
	if basis == "" {
		basis = AfterModeBasisWallClock
	}
	return &PublishTimeCalculator{afterModeBasis: basis}
}

// clamp enforces the hard cap: publish ≤ start − 30 min.
func clamp(publish, start time.Time) time.Time {
	capAt := start.Add(-hardCapLead)
	if publish.After(capAt) {
		return capAt
	}
	return publish
}

// ComputeBefore implements before-mode: publish = start − offset.
func (c *PublishTimeCalculator) ComputeBefore(start time.Time, automation domain.AutomationSettings) time.Time {
	return clamp(start.Add(-automation.Offset()), start)
}

// ComputeMonthly implements monthly-mode: a calendar anchor
// (year, monthOfStart, min(monthlyDay, lastDayOfMonth), monthlyHour,
// monthlyMinute); if this is not strictly before start, step one month
// earlier and reapply the clamp (handles days 29-31 on short months).
func (c *PublishTimeCalculator) ComputeMonthly(start time.Time, automation domain.AutomationSettings) time.Time {
	loc := start.Location()
	year, month := start.Year(), start.Month()

	publish := monthlyAnchor(year, month, automation.MonthlyDay, automation.MonthlyHour, automation.MonthlyMinute, loc)
	if !publish.Before(start) {
		year, month = prevMonth(year, month)
		publish = monthlyAnchor(year, month, automation.MonthlyDay, automation.MonthlyHour, automation.MonthlyMinute, loc)
	}
	return clamp(publish, start)
}

func prevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

func monthlyAnchor(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	lastDay := lastDayOfMonth(year, month)
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.Add(-24 * time.Hour)
	return lastOfThis.Day()
}

// AfterModeInputs carries the slot-expansion-time context ComputeAfter
// needs: the previous and next slot starts (the latter only to compute the
// smart-switch midpoint), the event's duration, and — when no previous slot
// exists — the profile's lastSuccess.
type AfterModeInputs struct {
	PreviousSlotStart *time.Time
	NextSlotStart     *time.Time
	Duration          time.Duration
	LastSuccess       *time.Time
	Now               time.Time
}

// ComputeAfter implements after-mode: publish =
// (previousSlot.eventStart + duration) + offset, where the first slot uses
// lastSuccess (or now, depending on afterModeBasis) as the previous anchor.
// If publish falls past the midpoint between the previous and next slot,
// fall back to before-mode timing against the next slot start ("smart
// switch"). Call sites that have no next slot (the final slot in a batch)
// pass nil and skip the smart-switch check.
func (c *PublishTimeCalculator) ComputeAfter(start time.Time, automation domain.AutomationSettings, in AfterModeInputs) time.Time {
	prev := in.PreviousSlotStart
	if prev == nil {
		switch c.afterModeBasis {
		case AfterModeBasisPreviousEventEnd:
			if in.LastSuccess != nil {
				prev = in.LastSuccess
			} else {
				now := in.Now
				prev = &now
			}
		default: // wall_clock
			now := in.Now
			prev = &now
		}
	}

	publish := prev.Add(in.Duration).Add(automation.Offset())

	if in.NextSlotStart != nil {
		midpoint := prev.Add(in.NextSlotStart.Sub(*prev) / 2)
		if publish.After(midpoint) {
			publish = c.ComputeBefore(*in.NextSlotStart, automation)
			return publish
		}
	}

	return clamp(publish, start)
}

// RestoreBasis computes the publish time for the RestoreDeleted path:
// after-mode has no previous slot available, so it substitutes before-mode.
func (c *PublishTimeCalculator) RestoreBasis(start time.Time, automation domain.AutomationSettings) time.Time {
	switch automation.Timing {
	case domain.TimingModeMonthly:
		return c.ComputeMonthly(start, automation)
	default:
		return c.ComputeBefore(start, automation)
	}
}

// Compute dispatches on automation.Timing for the non-after-mode cases used
// during normalization and override recomputation.
func (c *PublishTimeCalculator) Compute(start time.Time, automation domain.AutomationSettings) time.Time {
	switch automation.Timing {
	case domain.TimingModeMonthly:
		return c.ComputeMonthly(start, automation)
	case domain.TimingModeAfter:
		// Outside slot expansion there is no previous/next slot context;
		// treat as the restore path (before-mode substitute).
		return c.ComputeBefore(start, automation)
	default:
		return c.ComputeBefore(start, automation)
	}
}

// RecomputeForOverride implements the ApplyOverrides publish-time rule:
// before-mode uses the offset against the new start; other modes preserve
// the original start→publish delta.
func (c *PublishTimeCalculator) RecomputeForOverride(automation domain.AutomationSettings, oldStart, oldPublish, newStart time.Time) time.Time {
	if automation.Timing == domain.TimingModeBefore {
		return c.ComputeBefore(newStart, automation)
	}
	delta := oldPublish.Sub(oldStart)
	return clamp(newStart.Add(delta), newStart)
}
