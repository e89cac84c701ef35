package prescription

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate(" 2025-01-02 ")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Day())

	for _, bad := range []string{"", "02/01/2025", "2025-1-2", "2025-01-02T08:00:00Z"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateOnly(t *testing.T) {
	in := time.Date(2025, time.January, 2, 18, 30, 12, 999, time.UTC)
	assert.Equal(t, time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC), DateOnly(in))

	// Non-UTC instants collapse onto their UTC calendar day.
	kst := time.FixedZone("KST", 9*3600)
	in = time.Date(2025, time.January, 2, 3, 0, 0, 0, kst)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), DateOnly(in))
}

func TestPrescriptionValidate(t *testing.T) {
	valid := &Prescription{
		StartDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Diagnosis: "bronchitis",
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Prescription{StartDate: valid.StartDate}).Validate())
	assert.Error(t, (&Prescription{StartDate: valid.StartDate, Diagnosis: "   "}).Validate())
	assert.Error(t, (&Prescription{Diagnosis: "bronchitis"}).Validate())
}

func TestDrugValidate(t *testing.T) {
	valid := &Drug{Name: "amoxicillin", TotalDays: 3, TimeSlots: []timeslot.Slot{timeslot.Morning}}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Drug{TotalDays: 3}).Validate())
	assert.Error(t, (&Drug{Name: "amoxicillin", TotalDays: 0}).Validate())
}

func TestChangeEvent(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	ev := NewChangeEvent(ChangeDrugAdded, 42, start).WithDrug(7)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "2025-01-01", ev.StartDate)

	payload, err := ev.Marshal()
	require.NoError(t, err)

	var decoded ChangeEvent
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, ChangeDrugAdded, decoded.Change)
	assert.Equal(t, int64(42), decoded.PrescriptionID)
	assert.Equal(t, int64(7), decoded.DrugID)
}

func TestChangeEvent_NoStartDateForDelete(t *testing.T) {
	ev := NewChangeEvent(ChangeDeleted, 42, time.Time{})
	assert.Empty(t, ev.StartDate)
}
