package alertsink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []Registration
	ch    chan Registration
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan Registration, 16)}
}

func (r *fireRecorder) fire(reg Registration) {
	r.mu.Lock()
	r.fired = append(r.fired, reg)
	r.mu.Unlock()
	r.ch <- reg
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func waitFired(t *testing.T, r *fireRecorder) Registration {
	t.Helper()
	select {
	case reg := <-r.ch:
		return reg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reminder to fire")
		return Registration{}
	}
}

func TestTimerSink_FiresDueReminder(t *testing.T) {
	rec := newFireRecorder()
	sink := NewTimerSink(rec.fire, nil)
	defer sink.Close()

	reg := Registration{
		RequestKey: 420110,
		DrugID:     7,
		DrugName:   "amoxicillin",
		TimeSlot:   timeslot.Morning,
		FireAt:     time.Now().Add(10 * time.Millisecond),
	}
	require.NoError(t, sink.Register(context.Background(), reg))

	got := waitFired(t, rec)
	assert.Equal(t, reg.RequestKey, got.RequestKey)
	assert.Equal(t, timeslot.Morning, got.TimeSlot)
	assert.Equal(t, 0, sink.Pending(), "fired reminder leaves the registry")
}

func TestTimerSink_ReRegisterReplaces(t *testing.T) {
	rec := newFireRecorder()
	sink := NewTimerSink(rec.fire, nil)
	defer sink.Close()

	ctx := context.Background()
	key := int64(420110)

	require.NoError(t, sink.Register(ctx, Registration{
		RequestKey: key,
		DrugName:   "first",
		FireAt:     time.Now().Add(time.Hour),
	}))
	require.NoError(t, sink.Register(ctx, Registration{
		RequestKey: key,
		DrugName:   "second",
		FireAt:     time.Now().Add(10 * time.Millisecond),
	}))
	assert.Equal(t, 1, sink.Pending())

	got := waitFired(t, rec)
	assert.Equal(t, "second", got.DrugName, "replacement wins")
	assert.Equal(t, 1, rec.count())
}

func TestTimerSink_CancelUnknownIsNoOp(t *testing.T) {
	sink := NewTimerSink(nil, nil)
	defer sink.Close()

	assert.NoError(t, sink.Cancel(context.Background(), 999999))
}

func TestTimerSink_CancelStopsFire(t *testing.T) {
	rec := newFireRecorder()
	sink := NewTimerSink(rec.fire, nil)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Register(ctx, Registration{
		RequestKey: 1,
		FireAt:     time.Now().Add(50 * time.Millisecond),
	}))
	require.NoError(t, sink.Cancel(ctx, 1))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, sink.Pending())
}

func TestTimerSink_CloseRejectsRegister(t *testing.T) {
	sink := NewTimerSink(nil, nil)
	require.NoError(t, sink.Register(context.Background(), Registration{RequestKey: 1, FireAt: time.Now().Add(time.Hour)}))

	sink.Close()
	assert.Equal(t, 0, sink.Pending())

	err := sink.Register(context.Background(), Registration{RequestKey: 2, FireAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrSinkClosed)
}
