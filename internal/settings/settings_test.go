package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

type memoryStore struct {
	values  map[string]string
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]string)}
}

func (m *memoryStore) Load(context.Context) (Preferences, error) {
	prefs := Default()
	for key, value := range m.values {
		switch key {
		case keyMedicationAlerts:
			prefs.MedicationAlertsEnabled = value == "true"
		case keyCourseEndAlert:
			prefs.CourseEndAlertEnabled = value == "true"
		default:
			slot := timeslot.Normalize(key[len(slotTimePrefix):])
			prefs.SlotTimes[slot] = value
		}
	}
	return prefs, nil
}

func (m *memoryStore) Save(_ context.Context, key, value string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.values[key] = value
	return nil
}

func TestDefaults(t *testing.T) {
	prefs := Default()
	assert.Equal(t, "08:00", prefs.SlotTime(timeslot.Morning))
	assert.Equal(t, "12:00", prefs.SlotTime(timeslot.Lunch))
	assert.Equal(t, "18:00", prefs.SlotTime(timeslot.Dinner))
	assert.Equal(t, "22:00", prefs.SlotTime(timeslot.Bedtime))
	assert.True(t, prefs.MedicationAlertsEnabled)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"08:00", 8, 0, false},
		{"23:59", 23, 59, false},
		{"0:05", 0, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestSetSlotTime_WriteVisibleToNextRead(t *testing.T) {
	svc := NewService(newMemoryStore(), nil)
	ctx := context.Background()

	next, err := svc.SetSlotTime(ctx, timeslot.Morning, "09:00")
	require.NoError(t, err)
	assert.Equal(t, "09:00", next.SlotTime(timeslot.Morning))

	// No staleness window: the synchronous reschedule pass reads the new
	// value immediately.
	assert.Equal(t, "09:00", svc.Get().SlotTime(timeslot.Morning))
}

func TestSetSlotTime_RejectsBadInput(t *testing.T) {
	svc := NewService(newMemoryStore(), nil)
	ctx := context.Background()

	_, err := svc.SetSlotTime(ctx, timeslot.Morning, "25:00")
	assert.Error(t, err)

	_, err = svc.SetSlotTime(ctx, timeslot.Unknown, "09:00")
	assert.Error(t, err)

	assert.Equal(t, "08:00", svc.Get().SlotTime(timeslot.Morning), "failed write leaves cache untouched")
}

func TestSetSlotTime_PersistFailureLeavesCache(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("io failure")
	svc := NewService(store, nil)

	_, err := svc.SetSlotTime(context.Background(), timeslot.Dinner, "19:30")
	require.Error(t, err)
	assert.Equal(t, "18:00", svc.Get().SlotTime(timeslot.Dinner))
}

func TestGetReturnsCopy(t *testing.T) {
	svc := NewService(newMemoryStore(), nil)

	snapshot := svc.Get()
	snapshot.SlotTimes[timeslot.Morning] = "03:33"

	assert.Equal(t, "08:00", svc.Get().SlotTime(timeslot.Morning))
}

func TestLoadHydratesFromStore(t *testing.T) {
	store := newMemoryStore()
	store.values[slotTimePrefix+"morning"] = "07:30"
	store.values[keyMedicationAlerts] = "false"

	svc := NewService(store, nil)
	require.NoError(t, svc.Load(context.Background()))

	prefs := svc.Get()
	assert.Equal(t, "07:30", prefs.SlotTime(timeslot.Morning))
	assert.False(t, prefs.MedicationAlertsEnabled)
	assert.True(t, prefs.CourseEndAlertEnabled)
}
