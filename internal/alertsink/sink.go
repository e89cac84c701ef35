package alertsink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// Registration describes one pending reminder. The request key identifies it
// for later cancellation or replacement.
type Registration struct {
	RequestKey     int64
	PrescriptionID int64
	DrugID         int64
	DrugName       string
	TimeSlot       timeslot.Slot
	FireAt         time.Time
}

// Sink accepts reminder registrations. Registering the same request key twice
// replaces the earlier registration; cancelling an unknown key is a no-op.
type Sink interface {
	Register(ctx context.Context, reg Registration) error
	Cancel(ctx context.Context, requestKey int64) error
}

// FireFunc is invoked when a registered reminder comes due.
type FireFunc func(reg Registration)

// TimerSink schedules reminders on in-process timers. It is the runtime sink
// used by the dispatcher; tests substitute their own Sink.
type TimerSink struct {
	mu     sync.Mutex
	timers map[int64]*registeredTimer
	fire   FireFunc
	logger *zap.Logger
	closed bool
}

type registeredTimer struct {
	timer *time.Timer
	reg   Registration
}

func NewTimerSink(fire FireFunc, logger *zap.Logger) *TimerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerSink{
		timers: make(map[int64]*registeredTimer),
		fire:   fire,
		logger: logger,
	}
}

func (s *TimerSink) Register(_ context.Context, reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	if existing, ok := s.timers[reg.RequestKey]; ok {
		existing.timer.Stop()
	}

	delay := time.Until(reg.FireAt)
	if delay < 0 {
		delay = 0
	}

	rt := &registeredTimer{reg: reg}
	rt.timer = time.AfterFunc(delay, func() {
		s.fired(reg.RequestKey)
	})
	s.timers[reg.RequestKey] = rt

	s.logger.Debug("reminder registered",
		zap.Int64("request_key", reg.RequestKey),
		zap.Int64("drug_id", reg.DrugID),
		zap.String("time_slot", string(reg.TimeSlot)),
		zap.Time("fire_at", reg.FireAt))
	return nil
}

func (s *TimerSink) Cancel(_ context.Context, requestKey int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.timers[requestKey]
	if !ok {
		return nil
	}
	rt.timer.Stop()
	delete(s.timers, requestKey)

	s.logger.Debug("reminder cancelled", zap.Int64("request_key", requestKey))
	return nil
}

// Pending reports how many reminders are currently registered.
func (s *TimerSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all timers. Further registrations fail.
func (s *TimerSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, rt := range s.timers {
		rt.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *TimerSink) fired(requestKey int64) {
	s.mu.Lock()
	rt, ok := s.timers[requestKey]
	if ok {
		delete(s.timers, requestKey)
	}
	closed := s.closed
	s.mu.Unlock()

	if !ok || closed {
		return
	}
	if s.fire != nil {
		s.fire(rt.reg)
	}
}
