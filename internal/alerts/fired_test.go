package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/ledger"
	"github.com/medikeep/go-adherence/pkg/idempotency"
)

type fakeStore struct {
	prescriptions map[int64]*prescription.Prescription
}

func (f *fakeStore) Get(_ context.Context, id int64) (*prescription.Prescription, error) {
	p, ok := f.prescriptions[id]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) List(context.Context) ([]*prescription.Prescription, error) {
	out := make([]*prescription.Prescription, 0, len(f.prescriptions))
	for _, p := range f.prescriptions {
		out = append(out, p)
	}
	return out, nil
}

type fakeLedger struct {
	confirmed []ledger.Key
	failOn    int64
}

func (f *fakeLedger) SetCompleted(_ context.Context, key ledger.Key, completed bool) (*ledger.Record, error) {
	if key.DrugID == f.failOn {
		return nil, errors.New("write failed")
	}
	f.confirmed = append(f.confirmed, key)
	now := time.Now()
	return &ledger.Record{DrugID: key.DrugID, Date: key.Date, Slot: key.Slot, IsCompleted: completed, CompletedAt: &now}, nil
}

// memoryInbox mimics the durable inbox: first call per key runs the handler,
// later calls report a duplicate.
type memoryInbox struct {
	seen map[string]bool
}

func newMemoryInbox() *memoryInbox { return &memoryInbox{seen: make(map[string]bool)} }

func (m *memoryInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.HandlerFunc) (*idempotency.Outcome, error) {
	if m.seen[key] {
		return &idempotency.Outcome{Duplicate: true}, nil
	}
	result, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	m.seen[key] = true
	return &idempotency.Outcome{Result: result}, nil
}

func firedPayload(t *testing.T, event FiredEvent) []byte {
	t.Helper()
	payload, err := event.Marshal()
	require.NoError(t, err)
	return payload
}

func twoDrugPrescription() *prescription.Prescription {
	return &prescription.Prescription{
		ID:        42,
		StartDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Drugs: []*prescription.Drug{
			{ID: 7, Name: "amoxicillin", TotalDays: 3, TimeSlots: []timeslot.Slot{timeslot.Morning, timeslot.Dinner}},
			{ID: 8, Name: "ibuprofen", TotalDays: 3, TimeSlots: []timeslot.Slot{timeslot.Dinner}},
		},
	}
}

func TestHandle_ConfirmsDrugsInFiredSlot(t *testing.T) {
	store := &fakeStore{prescriptions: map[int64]*prescription.Prescription{42: twoDrugPrescription()}}
	led := &fakeLedger{}
	h := NewFiredHandler(store, led, newMemoryInbox(), nil)

	payload := firedPayload(t, FiredEvent{
		RequestKey:     420110,
		PrescriptionID: 42,
		DrugID:         7,
		TimeSlot:       timeslot.Morning,
		ScheduledDate:  "2025-01-02",
	})
	require.NoError(t, h.Handle(context.Background(), payload))

	// Only the morning drug is confirmed, not the dinner-only one.
	require.Len(t, led.confirmed, 1)
	assert.Equal(t, int64(7), led.confirmed[0].DrugID)
	assert.Equal(t, timeslot.Morning, led.confirmed[0].Slot)
	assert.Equal(t, time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC), led.confirmed[0].Date)
}

func TestHandle_DinnerSlotConfirmsBothDrugs(t *testing.T) {
	store := &fakeStore{prescriptions: map[int64]*prescription.Prescription{42: twoDrugPrescription()}}
	led := &fakeLedger{}
	h := NewFiredHandler(store, led, newMemoryInbox(), nil)

	payload := firedPayload(t, FiredEvent{
		RequestKey:     420113,
		PrescriptionID: 42,
		TimeSlot:       timeslot.Dinner,
		ScheduledDate:  "2025-01-02",
	})
	require.NoError(t, h.Handle(context.Background(), payload))
	assert.Len(t, led.confirmed, 2)
}

func TestHandle_RedeliveryIsNoOp(t *testing.T) {
	store := &fakeStore{prescriptions: map[int64]*prescription.Prescription{42: twoDrugPrescription()}}
	led := &fakeLedger{}
	h := NewFiredHandler(store, led, newMemoryInbox(), nil)

	payload := firedPayload(t, FiredEvent{
		RequestKey:     420110,
		PrescriptionID: 42,
		TimeSlot:       timeslot.Morning,
		ScheduledDate:  "2025-01-02",
	})
	require.NoError(t, h.Handle(context.Background(), payload))
	require.NoError(t, h.Handle(context.Background(), payload))

	assert.Len(t, led.confirmed, 1, "second delivery does not write again")
}

func TestHandle_OutOfCourseDateConfirmsNothing(t *testing.T) {
	store := &fakeStore{prescriptions: map[int64]*prescription.Prescription{42: twoDrugPrescription()}}
	led := &fakeLedger{}
	h := NewFiredHandler(store, led, newMemoryInbox(), nil)

	// A stale timer for day 4 fires after the 3-day course was shortened
	// out from under it; no completion may be written past the course.
	payload := firedPayload(t, FiredEvent{
		RequestKey:     420140,
		PrescriptionID: 42,
		DrugID:         7,
		TimeSlot:       timeslot.Morning,
		ScheduledDate:  "2025-01-05",
	})
	require.NoError(t, h.Handle(context.Background(), payload))
	assert.Empty(t, led.confirmed)
}

func TestHandle_DeletedPrescriptionIsSuccess(t *testing.T) {
	store := &fakeStore{prescriptions: map[int64]*prescription.Prescription{}}
	led := &fakeLedger{}
	h := NewFiredHandler(store, led, newMemoryInbox(), nil)

	payload := firedPayload(t, FiredEvent{
		RequestKey:     420110,
		PrescriptionID: 42,
		TimeSlot:       timeslot.Morning,
		ScheduledDate:  "2025-01-02",
	})
	assert.NoError(t, h.Handle(context.Background(), payload))
	assert.Empty(t, led.confirmed)
}

func TestHandle_LedgerFailurePropagates(t *testing.T) {
	store := &fakeStore{prescriptions: map[int64]*prescription.Prescription{42: twoDrugPrescription()}}
	led := &fakeLedger{failOn: 7}
	h := NewFiredHandler(store, led, newMemoryInbox(), nil)

	payload := firedPayload(t, FiredEvent{
		RequestKey:     420110,
		PrescriptionID: 42,
		TimeSlot:       timeslot.Morning,
		ScheduledDate:  "2025-01-02",
	})
	assert.Error(t, h.Handle(context.Background(), payload), "failure leaves the message uncommitted for redelivery")
}

func TestHandle_MalformedPayload(t *testing.T) {
	h := NewFiredHandler(&fakeStore{}, &fakeLedger{}, newMemoryInbox(), nil)
	assert.Error(t, h.Handle(context.Background(), []byte("{")))

	payload := firedPayload(t, FiredEvent{ScheduledDate: "01/02/2025"})
	assert.Error(t, h.Handle(context.Background(), payload))
}
