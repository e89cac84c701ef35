// Package timeslot defines the canonical daily dosing slots and the
// normalization rules for the localized slot vocabulary found in stored data.
package timeslot

import (
	"sort"
	"strings"
)

// Slot is a canonical dosing slot
type Slot string

const (
	Morning Slot = "morning"
	Lunch   Slot = "lunch"
	Dinner  Slot = "dinner"
	Bedtime Slot = "bedtime"
	Unknown Slot = ""
)

// Codes used in deterministic alert request keys. Unknown maps to 0.
const (
	CodeUnknown = 0
	CodeMorning = 1
	CodeLunch   = 2
	CodeDinner  = 3
	CodeBedtime = 4
)

// ListSeparator delimits slots in the persisted drugs.time_slots column.
const ListSeparator = ","

// displayOrder fixes the checklist ordering: morning first, bedtime last.
var displayOrder = map[Slot]int{
	Morning: 0,
	Lunch:   1,
	Dinner:  2,
	Bedtime: 3,
}

// Normalize maps a raw slot token to its canonical slot. The persisted data
// mixes an English and a Korean vocabulary; both are accepted here and nowhere
// else. Unrecognized tokens yield Unknown; callers drop those rather than
// failing the whole drug.
func Normalize(raw string) Slot {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "morning", "아침", "breakfast":
		return Morning
	case "lunch", "점심", "noon":
		return Lunch
	case "dinner", "저녁", "evening":
		return Dinner
	case "bedtime", "취침전", "취침 전", "bed":
		return Bedtime
	default:
		return Unknown
	}
}

// Code returns the numeric request-key code for a slot.
func (s Slot) Code() int {
	switch s {
	case Morning:
		return CodeMorning
	case Lunch:
		return CodeLunch
	case Dinner:
		return CodeDinner
	case Bedtime:
		return CodeBedtime
	default:
		return CodeUnknown
	}
}

// FromCode is the inverse of Code. Unrecognized codes yield Unknown.
func FromCode(code int) Slot {
	switch code {
	case CodeMorning:
		return Morning
	case CodeLunch:
		return Lunch
	case CodeDinner:
		return Dinner
	case CodeBedtime:
		return Bedtime
	default:
		return Unknown
	}
}

// Valid reports whether s is one of the four canonical slots.
func (s Slot) Valid() bool {
	_, ok := displayOrder[s]
	return ok
}

// All returns the canonical slots in display order.
func All() []Slot {
	return []Slot{Morning, Lunch, Dinner, Bedtime}
}

// ParseList parses a delimited slot list as stored in drugs.time_slots.
// Tokens are normalized, unknown tokens and duplicates are dropped, and the
// result is sorted into display order regardless of stored order.
func ParseList(stored string) []Slot {
	if strings.TrimSpace(stored) == "" {
		return nil
	}

	seen := make(map[Slot]bool, 4)
	var slots []Slot
	for _, token := range strings.Split(stored, ListSeparator) {
		slot := Normalize(token)
		if slot == Unknown || seen[slot] {
			continue
		}
		seen[slot] = true
		slots = append(slots, slot)
	}

	Sort(slots)
	return slots
}

// FormatList renders slots back into the persisted delimited form, in
// display order, deduplicated.
func FormatList(slots []Slot) string {
	seen := make(map[Slot]bool, 4)
	var parts []string
	for _, s := range Sorted(slots) {
		if !s.Valid() || seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ListSeparator)
}

// Sort orders slots in place into display order.
func Sort(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return displayOrder[slots[i]] < displayOrder[slots[j]]
	})
}

// Sorted returns a copy of slots in display order.
func Sorted(slots []Slot) []Slot {
	out := make([]Slot, len(slots))
	copy(out, slots)
	Sort(out)
	return out
}

// Contains reports whether slots includes want after normalization.
func Contains(slots []Slot, want Slot) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}
