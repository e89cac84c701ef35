// Package settings stores alarm preferences: one clock time per dosing slot
// plus the global alert enable flags. Preferences are passed by value into
// the scheduler so the dependency is visible at every call site.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// Preferences is a snapshot of the alarm settings.
type Preferences struct {
	SlotTimes               map[timeslot.Slot]string `json:"slot_times"`
	MedicationAlertsEnabled bool                     `json:"medication_alerts_enabled"`
	CourseEndAlertEnabled   bool                     `json:"course_end_alert_enabled"`
}

// Default returns the fixed out-of-the-box preferences.
func Default() Preferences {
	return Preferences{
		SlotTimes: map[timeslot.Slot]string{
			timeslot.Morning: "08:00",
			timeslot.Lunch:   "12:00",
			timeslot.Dinner:  "18:00",
			timeslot.Bedtime: "22:00",
		},
		MedicationAlertsEnabled: true,
		CourseEndAlertEnabled:   true,
	}
}

// SlotTime returns the configured clock time for slot, falling back to the
// default when the slot is missing from the snapshot.
func (p Preferences) SlotTime(slot timeslot.Slot) string {
	if t, ok := p.SlotTimes[slot]; ok && t != "" {
		return t
	}
	return Default().SlotTimes[slot]
}

// clone returns a deep copy so callers never share the cached map.
func (p Preferences) clone() Preferences {
	out := p
	out.SlotTimes = make(map[timeslot.Slot]string, len(p.SlotTimes))
	for k, v := range p.SlotTimes {
		out.SlotTimes[k] = v
	}
	return out
}

// ParseClock parses an "HH:MM" time-of-day string.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	return hour, minute, nil
}

// Store is the persistence surface for preferences.
type Store interface {
	Load(ctx context.Context) (Preferences, error)
	Save(ctx context.Context, key, value string) error
}

// Service caches preferences in memory with write-through persistence, so a
// write is visible to the very next read. The scheduler reads the fresh
// snapshot synchronously after a slot-time change.
type Service struct {
	store  Store
	logger *zap.Logger

	mu    sync.RWMutex
	prefs Preferences
}

// NewService creates a service seeded with defaults; call Load to hydrate
// persisted values.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		prefs:  Default(),
	}
}

// Load hydrates the cache from the store.
func (s *Service) Load(ctx context.Context) error {
	prefs, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()
	return nil
}

// Get returns the current preference snapshot.
func (s *Service) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.clone()
}

// SetSlotTime updates one slot's clock time and returns the new snapshot.
// The caller is responsible for the follow-up reschedule pass.
func (s *Service) SetSlotTime(ctx context.Context, slot timeslot.Slot, clock string) (Preferences, error) {
	if !slot.Valid() {
		return Preferences{}, fmt.Errorf("unknown time slot %q", slot)
	}
	if _, _, err := ParseClock(clock); err != nil {
		return Preferences{}, err
	}

	if err := s.store.Save(ctx, slotTimeKey(slot), clock); err != nil {
		return Preferences{}, fmt.Errorf("save slot time: %w", err)
	}

	s.mu.Lock()
	s.prefs.SlotTimes[slot] = clock
	next := s.prefs.clone()
	s.mu.Unlock()

	s.logger.Info("slot time updated",
		zap.String("slot", string(slot)),
		zap.String("time", clock))
	return next, nil
}

// SetMedicationAlertsEnabled persists the master reminder switch.
func (s *Service) SetMedicationAlertsEnabled(ctx context.Context, enabled bool) (Preferences, error) {
	if err := s.store.Save(ctx, keyMedicationAlerts, strconv.FormatBool(enabled)); err != nil {
		return Preferences{}, fmt.Errorf("save alert flag: %w", err)
	}

	s.mu.Lock()
	s.prefs.MedicationAlertsEnabled = enabled
	next := s.prefs.clone()
	s.mu.Unlock()
	return next, nil
}

// SetCourseEndAlertEnabled persists the course-end notification switch.
func (s *Service) SetCourseEndAlertEnabled(ctx context.Context, enabled bool) (Preferences, error) {
	if err := s.store.Save(ctx, keyCourseEndAlert, strconv.FormatBool(enabled)); err != nil {
		return Preferences{}, fmt.Errorf("save alert flag: %w", err)
	}

	s.mu.Lock()
	s.prefs.CourseEndAlertEnabled = enabled
	next := s.prefs.clone()
	s.mu.Unlock()
	return next, nil
}

const (
	keyMedicationAlerts = "medication_alerts_enabled"
	keyCourseEndAlert   = "course_end_alert_enabled"
	slotTimePrefix      = "slot_time."
)

func slotTimeKey(slot timeslot.Slot) string {
	return slotTimePrefix + string(slot)
}
