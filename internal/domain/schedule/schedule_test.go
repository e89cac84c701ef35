package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := prescription.ParseDate(s)
	require.NoError(t, err)
	return d
}

func threeDayCourse(t *testing.T) []*prescription.Prescription {
	t.Helper()
	return []*prescription.Prescription{
		{
			ID:        1,
			StartDate: mustDate(t, "2025-01-01"),
			Diagnosis: "cold",
			Drugs: []*prescription.Drug{
				{
					ID:             7,
					PrescriptionID: 1,
					Name:           "amoxicillin",
					TotalDays:      3,
					TimeSlots:      []timeslot.Slot{timeslot.Morning, timeslot.Dinner},
				},
			},
		},
	}
}

func TestObligationsForDate_InsideCourse(t *testing.T) {
	calc := NewCalculator(nil)
	prescriptions := threeDayCourse(t)

	got := calc.ObligationsForDate(mustDate(t, "2025-01-02"), prescriptions)

	require.Len(t, got, 2)
	assert.Equal(t, timeslot.Morning, got[0].Slot)
	assert.Equal(t, timeslot.Dinner, got[1].Slot)
	assert.Equal(t, int64(7), got[0].DrugID)
	assert.Equal(t, mustDate(t, "2025-01-02"), got[0].Date)
}

func TestObligationsForDate_CourseRange(t *testing.T) {
	// Half-open range: a 3-day course starting 2025-01-01 covers exactly
	// Jan 1, 2 and 3.
	calc := NewCalculator(nil)
	prescriptions := threeDayCourse(t)

	tests := []struct {
		date string
		want int
	}{
		{"2024-12-31", 0},
		{"2025-01-01", 2},
		{"2025-01-02", 2},
		{"2025-01-03", 2},
		{"2025-01-04", 0},
		{"2025-01-05", 0},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			got := calc.ObligationsForDate(mustDate(t, tt.date), prescriptions)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestObligationsForDate_DisplayOrderAcrossDrugs(t *testing.T) {
	calc := NewCalculator(nil)
	prescriptions := []*prescription.Prescription{
		{
			ID:        1,
			StartDate: mustDate(t, "2025-03-01"),
			Drugs: []*prescription.Drug{
				{ID: 1, Name: "a", TotalDays: 5, TimeSlots: []timeslot.Slot{timeslot.Bedtime, timeslot.Morning}},
				{ID: 2, Name: "b", TotalDays: 5, TimeSlots: []timeslot.Slot{timeslot.Dinner, timeslot.Lunch}},
			},
		},
	}

	got := calc.ObligationsForDate(mustDate(t, "2025-03-02"), prescriptions)

	require.Len(t, got, 4)
	wantSlots := []timeslot.Slot{timeslot.Morning, timeslot.Lunch, timeslot.Dinner, timeslot.Bedtime}
	for i, slot := range wantSlots {
		assert.Equal(t, slot, got[i].Slot)
	}
}

func TestObligationsForDate_DegenerateDrugs(t *testing.T) {
	calc := NewCalculator(nil)
	prescriptions := []*prescription.Prescription{
		{
			ID:        1,
			StartDate: mustDate(t, "2025-01-01"),
			Drugs: []*prescription.Drug{
				{ID: 1, Name: "zero days", TotalDays: 0, TimeSlots: []timeslot.Slot{timeslot.Morning}},
				{ID: 2, Name: "negative days", TotalDays: -2, TimeSlots: []timeslot.Slot{timeslot.Morning}},
				{ID: 3, Name: "no slots", TotalDays: 3},
			},
		},
		{ID: 2, Drugs: []*prescription.Drug{{ID: 4, Name: "no start date", TotalDays: 3}}},
	}

	got := calc.ObligationsForDate(mustDate(t, "2025-01-01"), prescriptions)
	assert.Empty(t, got)
}

func TestObligationsForDate_EmptySlotSetIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	calc := NewCalculator(zap.New(core))
	prescriptions := []*prescription.Prescription{
		{
			ID:        1,
			StartDate: mustDate(t, "2025-01-01"),
			Drugs: []*prescription.Drug{
				{ID: 3, Name: "no slots", TotalDays: 3},
				{ID: 4, Name: "unknown slots", TotalDays: 3, TimeSlots: []timeslot.Slot{timeslot.Unknown}},
			},
		},
	}

	got := calc.ObligationsForDate(mustDate(t, "2025-01-01"), prescriptions)

	assert.Empty(t, got)
	assert.Equal(t, 2, logs.FilterMessage("drug has no recognized time slots, skipping").Len())
}

func TestRemainingDays(t *testing.T) {
	start := mustDate(t, "2025-01-01")

	tests := []struct {
		name string
		asOf string
		days int
		want int
	}{
		{"before course", "2024-12-30", 3, 3},
		{"first day", "2025-01-01", 3, 3},
		{"mid course", "2025-01-02", 3, 2},
		{"last day", "2025-01-03", 3, 1},
		{"after course", "2025-01-04", 3, 0},
		{"long after", "2025-02-01", 3, 0},
		{"zero duration", "2025-01-01", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemainingDays(start, tt.days, mustDate(t, tt.asOf)))
		})
	}
}

func TestDayOffset(t *testing.T) {
	start := mustDate(t, "2025-01-01")
	assert.Equal(t, 0, DayOffset(start, mustDate(t, "2025-01-01")))
	assert.Equal(t, 2, DayOffset(start, mustDate(t, "2025-01-03")))
	assert.Equal(t, -1, DayOffset(start, mustDate(t, "2024-12-31")))
}

func TestGroupBySlot(t *testing.T) {
	calc := NewCalculator(nil)
	got := calc.ObligationsForDate(mustDate(t, "2025-01-02"), threeDayCourse(t))

	groups := GroupBySlot(got)
	require.Len(t, groups, 2)
	assert.Equal(t, timeslot.Morning, groups[0].Slot)
	assert.Equal(t, timeslot.Dinner, groups[1].Slot)
	assert.Len(t, groups[0].Obligations, 1)
}
