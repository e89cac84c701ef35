// Package scheduler turns prescriptions into reminder registrations on an
// alert sink, and keeps those registrations in step with settings changes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/alertsink"
	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/settings"
	"github.com/medikeep/go-adherence/pkg/workerpool"
)

// Scheduler registers and cancels dose reminders. All operations recompute
// request keys from their inputs, so register and cancel agree without shared
// state.
type Scheduler struct {
	sink          alertsink.Sink
	prescriptions prescription.Store
	logger        *zap.Logger
	now           func() time.Time

	poolConfig workerpool.Config
}

func New(sink alertsink.Sink, prescriptions prescription.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sink:          sink,
		prescriptions: prescriptions,
		logger:        logger,
		now:           time.Now,
		poolConfig:    workerpool.DefaultConfig(),
	}
}

// ScheduleAll registers a reminder for every future dose of the drug: one per
// day in the course, per slot the drug is taken at. Registering an existing
// key overwrites it, so calling this twice produces the same set once.
//
// When medication alerts are disabled nothing is registered; existing
// registrations are left for CancelAll.
func (s *Scheduler) ScheduleAll(ctx context.Context, prescriptionID int64, drug *prescription.Drug, startDate time.Time, prefs settings.Preferences) error {
	if drug == nil || startDate.IsZero() || drug.TotalDays <= 0 || len(drug.TimeSlots) == 0 {
		return nil
	}
	if !prefs.MedicationAlertsEnabled {
		s.logger.Debug("medication alerts disabled, skipping schedule",
			zap.Int64("prescription_id", prescriptionID),
			zap.Int64("drug_id", drug.ID))
		return nil
	}

	now := s.now()
	registered, failed := 0, 0
	for offset := 0; offset < drug.TotalDays; offset++ {
		day := startDate.AddDate(0, 0, offset)
		for _, slot := range drug.TimeSlots {
			fireAt, err := fireInstant(day, slot, prefs)
			if err != nil {
				return fmt.Errorf("compute fire instant: %w", err)
			}
			if !fireAt.After(now) {
				continue
			}
			reg := alertsink.Registration{
				RequestKey:     DoseRequestKey(prescriptionID, offset, slot),
				PrescriptionID: prescriptionID,
				DrugID:         drug.ID,
				DrugName:       drug.Name,
				TimeSlot:       slot,
				FireAt:         fireAt,
			}
			// A denied registration must not take its siblings down
			// with it; log and keep registering the rest.
			if err := s.sink.Register(ctx, reg); err != nil {
				s.logger.Warn("reminder registration failed",
					zap.Int64("request_key", reg.RequestKey),
					zap.Int64("prescription_id", prescriptionID),
					zap.Int64("drug_id", drug.ID),
					zap.Error(err))
				failed++
				continue
			}
			registered++
		}
	}

	if prefs.CourseEndAlertEnabled {
		if err := s.scheduleCourseEnd(ctx, prescriptionID, drug, startDate, prefs, now); err != nil {
			s.logger.Warn("course-end registration failed",
				zap.Int64("prescription_id", prescriptionID),
				zap.Int64("drug_id", drug.ID),
				zap.Error(err))
			failed++
		}
	}

	s.logger.Debug("reminders scheduled",
		zap.Int64("prescription_id", prescriptionID),
		zap.Int64("drug_id", drug.ID),
		zap.Int("registered", registered),
		zap.Int("failed", failed))
	return nil
}

// CancelAll cancels every key the formula can produce for the drug: all
// representable day offsets across all slots, plus the course-end key. The
// sweep deliberately ignores the drug's current duration and slot set, so a
// shortened course or a removed slot cannot strand a registration made under
// the old definition. Cancelling an absent key is a no-op.
func (s *Scheduler) CancelAll(ctx context.Context, prescriptionID int64, drug *prescription.Drug, startDate time.Time) error {
	if drug == nil {
		return nil
	}
	for offset := 0; offset < MaxDoseDays; offset++ {
		for _, slot := range timeslot.All() {
			key := DoseRequestKey(prescriptionID, offset, slot)
			if err := s.sink.Cancel(ctx, key); err != nil {
				return fmt.Errorf("cancel reminder key %d: %w", key, err)
			}
		}
	}
	if err := s.sink.Cancel(ctx, CourseEndRequestKey(prescriptionID, drug.ID)); err != nil {
		return fmt.Errorf("cancel course-end reminder: %w", err)
	}
	return nil
}

// Reschedule cancels and re-registers every drug on the prescription. Cancel
// runs before register per drug so a changed slot set cannot strand a key.
func (s *Scheduler) Reschedule(ctx context.Context, p *prescription.Prescription, prefs settings.Preferences) error {
	if p == nil {
		return nil
	}
	for _, drug := range p.Drugs {
		if err := s.CancelAll(ctx, p.ID, drug, p.StartDate); err != nil {
			return err
		}
		if err := s.ScheduleAll(ctx, p.ID, drug, p.StartDate, prefs); err != nil {
			return err
		}
	}
	return nil
}

// RescheduleForSlot re-registers reminders for every drug taken at the given
// slot, across all prescriptions. It runs after a slot-time settings change.
// Per-drug failures are collected so one broken drug does not block the rest.
func (s *Scheduler) RescheduleForSlot(ctx context.Context, slot timeslot.Slot, prefs settings.Preferences) error {
	all, err := s.prescriptions.List(ctx)
	if err != nil {
		return fmt.Errorf("list prescriptions: %w", err)
	}

	pool := workerpool.New(s.poolConfig, s.logger)
	pool.Start(ctx)

	for _, p := range all {
		for _, drug := range p.Drugs {
			if !timeslot.Contains(drug.TimeSlots, slot) {
				continue
			}
			p, drug := p, drug
			job := workerpool.Job{
				Name: fmt.Sprintf("reschedule prescription %d drug %d", p.ID, drug.ID),
				Run: func(jobCtx context.Context) error {
					if err := s.cancelSlot(jobCtx, p.ID, slot); err != nil {
						return err
					}
					return s.scheduleSlot(jobCtx, p.ID, drug, p.StartDate, slot, prefs)
				},
			}
			if err := pool.Submit(ctx, job); err != nil {
				pool.Wait()
				return fmt.Errorf("submit reschedule job: %w", err)
			}
		}
	}

	failures := pool.Wait()
	for _, f := range failures {
		s.logger.Warn("reschedule failed", zap.String("job", f.Name), zap.Error(f.Err))
	}
	if len(failures) > 0 {
		return fmt.Errorf("reschedule for slot %s: %d of the drug updates failed", slot, len(failures))
	}
	return nil
}

func (s *Scheduler) cancelSlot(ctx context.Context, prescriptionID int64, slot timeslot.Slot) error {
	for offset := 0; offset < MaxDoseDays; offset++ {
		if err := s.sink.Cancel(ctx, DoseRequestKey(prescriptionID, offset, slot)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) scheduleSlot(ctx context.Context, prescriptionID int64, drug *prescription.Drug, startDate time.Time, slot timeslot.Slot, prefs settings.Preferences) error {
	if !prefs.MedicationAlertsEnabled || startDate.IsZero() {
		return nil
	}
	now := s.now()
	failed := 0
	for offset := 0; offset < drug.TotalDays; offset++ {
		day := startDate.AddDate(0, 0, offset)
		fireAt, err := fireInstant(day, slot, prefs)
		if err != nil {
			return err
		}
		if !fireAt.After(now) {
			continue
		}
		reg := alertsink.Registration{
			RequestKey:     DoseRequestKey(prescriptionID, offset, slot),
			PrescriptionID: prescriptionID,
			DrugID:         drug.ID,
			DrugName:       drug.Name,
			TimeSlot:       slot,
			FireAt:         fireAt,
		}
		// Keep registering siblings; the tally surfaces through the
		// job result instead.
		if err := s.sink.Register(ctx, reg); err != nil {
			s.logger.Warn("reminder registration failed",
				zap.Int64("request_key", reg.RequestKey),
				zap.Int64("prescription_id", prescriptionID),
				zap.Int64("drug_id", drug.ID),
				zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d registrations failed for drug %d", failed, drug.ID)
	}
	return nil
}

// scheduleCourseEnd registers one reminder at the last dose instant of the
// course: the latest configured slot on the final day.
func (s *Scheduler) scheduleCourseEnd(ctx context.Context, prescriptionID int64, drug *prescription.Drug, startDate time.Time, prefs settings.Preferences, now time.Time) error {
	lastDay := startDate.AddDate(0, 0, drug.TotalDays-1)
	slots := timeslot.Sorted(drug.TimeSlots)
	lastSlot := slots[len(slots)-1]

	fireAt, err := fireInstant(lastDay, lastSlot, prefs)
	if err != nil {
		return fmt.Errorf("compute course-end instant: %w", err)
	}
	if !fireAt.After(now) {
		return nil
	}
	reg := alertsink.Registration{
		RequestKey:     CourseEndRequestKey(prescriptionID, drug.ID),
		PrescriptionID: prescriptionID,
		DrugID:         drug.ID,
		DrugName:       drug.Name,
		TimeSlot:       lastSlot,
		FireAt:         fireAt,
	}
	if err := s.sink.Register(ctx, reg); err != nil {
		return fmt.Errorf("register course-end reminder: %w", err)
	}
	return nil
}

func fireInstant(day time.Time, slot timeslot.Slot, prefs settings.Preferences) (time.Time, error) {
	hour, minute, err := settings.ParseClock(prefs.SlotTime(slot))
	if err != nil {
		return time.Time{}, fmt.Errorf("slot %s: %w", slot, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}
