// Package prescription implements the prescription and drug domain model
// and its PostgreSQL persistence.
package prescription

import (
	"errors"
	"strings"
	"time"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// DateFormat is the calendar-date wire format used throughout the engine.
// Course dates never carry a time component.
const DateFormat = "2006-01-02"

// Prescription is one course of treatment entered by the user. Deleting a
// prescription cascades to its drugs and their completion records.
type Prescription struct {
	ID         int64     `json:"id"`
	StartDate  time.Time `json:"start_date"`
	Diagnosis  string    `json:"diagnosis"`
	Hospital   string    `json:"hospital,omitempty"`
	Department string    `json:"department,omitempty"`
	Pharmacy   string    `json:"pharmacy,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Drugs      []*Drug   `json:"drugs,omitempty"`
}

// Drug belongs to exactly one prescription.
type Drug struct {
	ID             int64           `json:"id"`
	PrescriptionID int64           `json:"prescription_id"`
	Name           string          `json:"name"`
	Dosage         string          `json:"dosage"`
	Frequency      string          `json:"frequency"`
	TotalDays      int             `json:"total_days"`
	Timing         string          `json:"timing,omitempty"`
	Memo           string          `json:"memo,omitempty"`
	TimeSlots      []timeslot.Slot `json:"time_slots"`
}

var (
	// ErrNotFound is returned when a prescription or drug does not exist.
	ErrNotFound = errors.New("prescription not found")

	// ErrInvalid is returned for records that violate domain invariants.
	ErrInvalid = errors.New("invalid prescription")
)

// Validate checks the prescription invariants before a write.
func (p *Prescription) Validate() error {
	if strings.TrimSpace(p.Diagnosis) == "" {
		return errors.New("diagnosis is required")
	}
	if p.StartDate.IsZero() {
		return errors.New("start date is required")
	}
	return nil
}

// Validate checks the drug invariants before a write.
func (d *Drug) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("drug name is required")
	}
	if d.TotalDays < 1 {
		return errors.New("total days must be at least 1")
	}
	return nil
}

// ParseDate parses a calendar date in the engine's wire format. The result
// is midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateFormat, strings.TrimSpace(s), time.UTC)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
