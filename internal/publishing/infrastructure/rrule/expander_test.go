package rrule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPatterns_WeeklyRuleEnumeratesOccurrencesWithinHorizon(t *testing.T) {
	e := &Expander{now: func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }}

	pattern := "DTSTART:20260504T090000Z\nRRULE:FREQ=WEEKLY;COUNT=3"
	slots, err := e.ExpandPatterns(context.Background(), []string{pattern}, 3, "UTC")
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC), slots[0].StartsAt)
	require.NotNil(t, slots[0].Occurrence)
	assert.Equal(t, 1, *slots[0].Occurrence)
	assert.False(t, slots[0].IsLast)

	require.NotNil(t, slots[2].Occurrence)
	assert.Equal(t, 3, *slots[2].Occurrence)
	assert.True(t, slots[2].IsLast)
}

func TestExpandPatterns_MultiplePatternsAreConcatenated(t *testing.T) {
	e := &Expander{now: func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }}

	first := "DTSTART:20260502T090000Z\nRRULE:FREQ=DAILY;COUNT=1"
	second := "DTSTART:20260503T100000Z\nRRULE:FREQ=DAILY;COUNT=1"
	slots, err := e.ExpandPatterns(context.Background(), []string{first, second}, 1, "UTC")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 9, slots[0].StartsAt.Hour())
	assert.Equal(t, 10, slots[1].StartsAt.Hour())
}

func TestExpandPatterns_OccurrencesOutsideHorizonAreExcluded(t *testing.T) {
	e := &Expander{now: func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }}

	pattern := "DTSTART:20260502T090000Z\nRRULE:FREQ=MONTHLY;COUNT=12"
	slots, err := e.ExpandPatterns(context.Background(), []string{pattern}, 1, "UTC")
	require.NoError(t, err)
	for _, s := range slots {
		assert.True(t, s.StartsAt.Before(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	}
	assert.NotEmpty(t, slots)
}

func TestExpandPatterns_InvalidTimezoneReturnsError(t *testing.T) {
	e := NewExpander()
	_, err := e.ExpandPatterns(context.Background(), []string{"RRULE:FREQ=DAILY;COUNT=1"}, 1, "Not/ARealZone")
	assert.Error(t, err)
}

func TestExpandPatterns_InvalidPatternReturnsError(t *testing.T) {
	e := NewExpander()
	_, err := e.ExpandPatterns(context.Background(), []string{"not an rrule"}, 1, "UTC")
	assert.Error(t, err)
}

func TestExpandPatterns_NoPatternsReturnsEmpty(t *testing.T) {
	e := NewExpander()
	slots, err := e.ExpandPatterns(context.Background(), nil, 1, "UTC")
	require.NoError(t, err)
	assert.Empty(t, slots)
}
