// Package schedule computes dosing obligations from prescriptions.
// Obligations are derived on demand and never persisted.
package schedule

import (
	"time"

	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// Obligation is a single (drug, date, slot) requirement to take a dose.
type Obligation struct {
	PrescriptionID int64         `json:"prescription_id"`
	DrugID         int64         `json:"drug_id"`
	DrugName       string        `json:"drug_name"`
	Date           time.Time     `json:"date"`
	Slot           timeslot.Slot `json:"slot"`
}

// Calculator derives obligations for calendar dates. It is a pure component:
// bad input produces an empty result and a log line, never an error to the
// caller.
type Calculator struct {
	logger *zap.Logger
}

// NewCalculator creates a calculator.
func NewCalculator(logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{logger: logger}
}

// InCourse reports whether date falls inside the course. The range is
// half-open: [start, start+totalDays), exactly totalDays days of obligations.
func InCourse(start time.Time, totalDays int, date time.Time) bool {
	if totalDays < 1 {
		return false
	}
	day := prescription.DateOnly(date)
	first := prescription.DateOnly(start)
	last := first.AddDate(0, 0, totalDays)
	return !day.Before(first) && day.Before(last)
}

// DayOffset returns the zero-based day index of date within a course starting
// at start. Negative before the course begins.
func DayOffset(start, date time.Time) int {
	first := prescription.DateOnly(start)
	day := prescription.DateOnly(date)
	return int(day.Sub(first).Hours() / 24)
}

// RemainingDays returns the number of course days left as of asOf, for
// "N days of medication left" displays. Never negative.
func RemainingDays(start time.Time, totalDays int, asOf time.Time) int {
	if totalDays < 1 {
		return 0
	}
	end := prescription.DateOnly(start).AddDate(0, 0, totalDays)
	remaining := int(end.Sub(prescription.DateOnly(asOf)).Hours() / 24)
	if remaining < 0 {
		return 0
	}
	if remaining > totalDays {
		return totalDays
	}
	return remaining
}

// ObligationsForDate returns every obligation that exists on date across the
// given prescriptions, ordered by slot display order and then by drug.
// Drugs with no course overlap, a non-positive duration, or an empty slot set
// contribute nothing; they are logged and skipped, not errors.
func (c *Calculator) ObligationsForDate(date time.Time, prescriptions []*prescription.Prescription) []Obligation {
	var all []Obligation
	for _, p := range prescriptions {
		if p == nil {
			continue
		}
		if p.StartDate.IsZero() {
			c.logger.Warn("prescription has no start date, skipping",
				zap.Int64("prescription_id", p.ID))
			continue
		}
		for _, d := range p.Drugs {
			all = append(all, c.obligationsForDrug(date, p, d)...)
		}
	}

	// Checklist ordering: morning -> lunch -> dinner -> bedtime, stable
	// within a slot.
	var ordered []Obligation
	for _, slot := range timeslot.All() {
		for _, o := range all {
			if o.Slot == slot {
				ordered = append(ordered, o)
			}
		}
	}
	return ordered
}

// ObligationsForDrug returns the obligations a single drug generates on date.
func (c *Calculator) ObligationsForDrug(date time.Time, p *prescription.Prescription, d *prescription.Drug) []Obligation {
	if p == nil || d == nil || p.StartDate.IsZero() {
		return nil
	}
	return c.obligationsForDrug(date, p, d)
}

func (c *Calculator) obligationsForDrug(date time.Time, p *prescription.Prescription, d *prescription.Drug) []Obligation {
	if d.TotalDays < 1 {
		c.logger.Warn("drug has non-positive duration, skipping",
			zap.Int64("drug_id", d.ID),
			zap.Int("total_days", d.TotalDays))
		return nil
	}
	if !hasValidSlot(d.TimeSlots) {
		c.logger.Warn("drug has no recognized time slots, skipping",
			zap.Int64("drug_id", d.ID))
		return nil
	}
	if !InCourse(p.StartDate, d.TotalDays, date) {
		return nil
	}

	day := prescription.DateOnly(date)
	var out []Obligation
	for _, slot := range timeslot.Sorted(d.TimeSlots) {
		if !slot.Valid() {
			continue
		}
		out = append(out, Obligation{
			PrescriptionID: p.ID,
			DrugID:         d.ID,
			DrugName:       d.Name,
			Date:           day,
			Slot:           slot,
		})
	}
	return out
}

func hasValidSlot(slots []timeslot.Slot) bool {
	for _, s := range slots {
		if s.Valid() {
			return true
		}
	}
	return false
}

// SlotGroup is one checklist section: a slot and its obligations.
type SlotGroup struct {
	Slot        timeslot.Slot `json:"slot"`
	Obligations []Obligation  `json:"obligations"`
}

// GroupBySlot splits obligations into display-ordered slot sections, keeping
// only non-empty sections.
func GroupBySlot(obligations []Obligation) []SlotGroup {
	var groups []SlotGroup
	for _, slot := range timeslot.All() {
		var members []Obligation
		for _, o := range obligations {
			if o.Slot == slot {
				members = append(members, o)
			}
		}
		if len(members) > 0 {
			groups = append(groups, SlotGroup{Slot: slot, Obligations: members})
		}
	}
	return groups
}
