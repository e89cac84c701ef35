package settings

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// ChangeKind identifies which preference changed.
type ChangeKind string

const (
	ChangeSlotTime         ChangeKind = "SLOT_TIME"
	ChangeMedicationAlerts ChangeKind = "MEDICATION_ALERTS"
	ChangeCourseEndAlert   ChangeKind = "COURSE_END_ALERT"
)

// ChangedEvent announces one preference update. The dispatcher consumes it
// and re-registers the reminders the change affects.
type ChangedEvent struct {
	EventID    string        `json:"eventId"`
	Kind       ChangeKind    `json:"kind"`
	Slot       timeslot.Slot `json:"slot,omitempty"`
	Value      string        `json:"value"`
	OccurredAt time.Time     `json:"occurredAt"`
}

func NewChangedEvent(kind ChangeKind, slot timeslot.Slot, value string) ChangedEvent {
	return ChangedEvent{
		EventID:    uuid.New().String(),
		Kind:       kind,
		Slot:       slot,
		Value:      value,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ChangedEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
