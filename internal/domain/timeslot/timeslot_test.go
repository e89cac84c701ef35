package timeslot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Slot
	}{
		{"canonical english", "morning", Morning},
		{"uppercase", "DINNER", Dinner},
		{"surrounding whitespace", "  lunch \t", Lunch},
		{"korean morning", "아침", Morning},
		{"korean lunch", "점심", Lunch},
		{"korean dinner", "저녁", Dinner},
		{"korean bedtime", "취침전", Bedtime},
		{"korean bedtime spaced", "취침 전", Bedtime},
		{"alias evening", "evening", Dinner},
		{"unknown token", "midnight snack", Unknown},
		{"empty", "", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		want   []Slot
	}{
		{"single", "morning", []Slot{Morning}},
		{"display order restored", "bedtime,morning,dinner", []Slot{Morning, Dinner, Bedtime}},
		{"duplicates dropped", "morning,아침,morning", []Slot{Morning}},
		{"mixed vocabularies", "점심,dinner,취침전", []Slot{Lunch, Dinner, Bedtime}},
		{"unknown tokens dropped not fatal", "morning,whenever,dinner", []Slot{Morning, Dinner}},
		{"empty list", "", nil},
		{"only unknown tokens", "foo,bar", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseList(tt.stored))
		})
	}
}

func TestFormatList(t *testing.T) {
	got := FormatList([]Slot{Bedtime, Morning, Morning, Unknown})
	assert.Equal(t, "morning,bedtime", got)
}

func TestCodeRoundTrip(t *testing.T) {
	for _, slot := range All() {
		assert.Equal(t, slot, FromCode(slot.Code()))
	}
	assert.Equal(t, CodeUnknown, Unknown.Code())
	assert.Equal(t, Unknown, FromCode(99))
}

func TestCodes(t *testing.T) {
	// The request-key formula depends on these exact values.
	assert.Equal(t, 1, Morning.Code())
	assert.Equal(t, 2, Lunch.Code())
	assert.Equal(t, 3, Dinner.Code())
	assert.Equal(t, 4, Bedtime.Code())
}
