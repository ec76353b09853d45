// Package rrule implements domain.SlotExpander (C1) over RFC 5545
// recurrence rules. It is the concrete, in-process stand-in for the
// external slot-expansion function the engine treats as out of scope;
// profiles supply one RRULE-shaped pattern string per slot series.
package rrule

import (
	"context"
	"fmt"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	gorrule "github.com/teambition/rrule-go"
)

// Expander implements domain.SlotExpander by parsing each pattern as an
// RRULE (optionally prefixed with DTSTART) and enumerating occurrences
// within the requested horizon.
type Expander struct {
	now func() time.Time
}

// NewExpander returns an Expander.
func NewExpander() *Expander {
	return &Expander{now: time.Now}
}

// ExpandPatterns parses patterns as RFC 5545 recurrence rules and returns
// every occurrence between now and monthsAhead from now, in timezone.
func (e *Expander) ExpandPatterns(ctx context.Context, patterns []string, monthsAhead int, timezone string) ([]domain.Slot, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	now := e.now().In(loc)
	horizon := now.AddDate(0, monthsAhead, 0)

	var slots []domain.Slot
	for _, pattern := range patterns {
		set, err := gorrule.StrToRRuleSet(pattern)
		if err != nil {
			return nil, fmt.Errorf("parse pattern %q: %w", pattern, err)
		}

		occurrences := set.Between(now, horizon, true)
		for i, occ := range occurrences {
			start := occ.In(loc)
			weekday := start.Weekday()
			occurrence := i + 1
			slots = append(slots, domain.Slot{
				StartsAt:   start,
				Weekday:    &weekday,
				Occurrence: &occurrence,
				IsLast:     i == len(occurrences)-1,
			})
		}
	}

	return slots, nil
}
