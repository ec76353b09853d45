package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Slot is a future event instant produced by pattern expansion (C1).
// Weekday and Occurrence are nil when the expander does not report them.
type Slot struct {
	StartsAt   time.Time
	Weekday    *time.Weekday
	Occurrence *int
	IsLast     bool
	IsAnnual   bool
}

// SlotKeyPrefix is the fixed literal the wire format begins with.
const SlotKeyPrefix = "pending"

// BuildSlotKey constructs the canonical slot key
// `pending_{targetId}_{profileKey}_{eventStartMillis}`.
func BuildSlotKey(targetID, profileKey string, eventStartsAt time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d", SlotKeyPrefix, targetID, profileKey, eventStartsAt.UTC().UnixMilli())
}

// ParseSlotKeyMillis extracts the trailing start-millis token from a slot
// key using rsplit('_', 1): only the last underscore-separated token is
// parsed, so targetId/profileKey may themselves contain underscores.
func ParseSlotKeyMillis(key string) (int64, error) {
	idx := strings.LastIndexByte(key, '_')
	if idx < 0 || idx == len(key)-1 {
		return 0, fmt.Errorf("slot key %q has no trailing millis token", key)
	}
	millisStr := key[idx+1:]
	millis, err := strconv.ParseInt(millisStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("slot key %q: trailing token %q is not an integer: %w", key, millisStr, err)
	}
	return millis, nil
}

// IsDeterministicSlotKey reports whether id is of the canonical
// `pending_{target}_{profile}_{millis}` form: starts with the slot-key
// prefix and its trailing token parses as millis.
func IsDeterministicSlotKey(id string) bool {
	if !strings.HasPrefix(id, SlotKeyPrefix+"_") {
		return false
	}
	_, err := ParseSlotKeyMillis(id)
	return err == nil
}
