package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeType describes what happened to a prescription.
type ChangeType string

const (
	ChangeCreated     ChangeType = "PrescriptionCreated"
	ChangeUpdated     ChangeType = "PrescriptionUpdated"
	ChangeDeleted     ChangeType = "PrescriptionDeleted"
	ChangeDrugAdded   ChangeType = "DrugAdded"
	ChangeDrugUpdated ChangeType = "DrugUpdated"
	ChangeDrugRemoved ChangeType = "DrugRemoved"
)

// ChangeEvent is the payload published on the prescription-changed topic.
// The reminder dispatcher uses it to re-derive alert registrations, so it
// carries the full scheduling context: cancellation needs the day/slot space
// of the course as it was, which StartDate and the drug list reconstruct.
type ChangeEvent struct {
	EventID        string     `json:"event_id"`
	Change         ChangeType `json:"change"`
	PrescriptionID int64      `json:"prescription_id"`
	StartDate      string     `json:"start_date,omitempty"`
	DrugID         int64      `json:"drug_id,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewChangeEvent builds a change event for a prescription.
func NewChangeEvent(change ChangeType, prescriptionID int64, startDate time.Time) *ChangeEvent {
	ev := &ChangeEvent{
		EventID:        uuid.New().String(),
		Change:         change,
		PrescriptionID: prescriptionID,
		OccurredAt:     time.Now().UTC(),
	}
	if !startDate.IsZero() {
		ev.StartDate = startDate.Format(DateFormat)
	}
	return ev
}

// WithDrug records which drug the change concerns.
func (e *ChangeEvent) WithDrug(drugID int64) *ChangeEvent {
	e.DrugID = drugID
	return e
}

// Marshal renders the event for the outbox payload column.
func (e *ChangeEvent) Marshal() (json.RawMessage, error) {
	return json.Marshal(e)
}
