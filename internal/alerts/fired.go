// Package alerts handles the fire side of reminders: when a registered
// reminder comes due, a FiredEvent travels over Kafka and the handler records
// the confirmation against the live drug list.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/schedule"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/ledger"
	"github.com/medikeep/go-adherence/pkg/idempotency"
)

// FiredEvent is the payload published when a reminder fires.
type FiredEvent struct {
	RequestKey     int64         `json:"requestKey"`
	PrescriptionID int64         `json:"prescriptionId"`
	DrugID         int64         `json:"drugId"`
	DrugName       string        `json:"drugName"`
	TimeSlot       timeslot.Slot `json:"timeSlot"`
	ScheduledDate  string        `json:"scheduledDate"`
	FiredAt        time.Time     `json:"firedAt"`
}

func (e FiredEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ConfirmationLedger is the slice of the completion ledger the handler needs.
type ConfirmationLedger interface {
	SetCompleted(ctx context.Context, key ledger.Key, completed bool) (*ledger.Record, error)
}

// Deduplicator is satisfied by the idempotency inbox.
type Deduplicator interface {
	Process(ctx context.Context, key, handler string, payload json.RawMessage, fn idempotency.HandlerFunc) (*idempotency.Outcome, error)
}

// FiredHandler confirms doses when reminders fire. The prescription is
// re-read at fire time: the drug list may have changed since the reminder
// was registered, and a deleted prescription makes the firing a no-op.
type FiredHandler struct {
	prescriptions prescription.Store
	ledger        ConfirmationLedger
	inbox         Deduplicator
	logger        *zap.Logger
}

const handlerName = "alert-fired"

func NewFiredHandler(store prescription.Store, confirmations ConfirmationLedger, inbox Deduplicator, logger *zap.Logger) *FiredHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FiredHandler{
		prescriptions: store,
		ledger:        confirmations,
		inbox:         inbox,
		logger:        logger,
	}
}

// Handle processes one fired-alert message. Kafka delivers at-least-once;
// the inbox makes redeliveries of the same (requestKey, date) no-ops.
func (h *FiredHandler) Handle(ctx context.Context, payload []byte) error {
	var event FiredEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode fired event: %w", err)
	}

	date, err := prescription.ParseDate(event.ScheduledDate)
	if err != nil {
		return fmt.Errorf("fired event date: %w", err)
	}

	key := idempotency.AlertKey(event.RequestKey, date)
	outcome, err := h.inbox.Process(ctx, key, handlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, h.confirm(ctx, event, date)
	})
	if err != nil {
		return err
	}
	if outcome.Duplicate {
		h.logger.Debug("duplicate alert firing ignored",
			zap.Int64("request_key", event.RequestKey),
			zap.String("date", event.ScheduledDate))
	}
	return nil
}

func (h *FiredHandler) confirm(ctx context.Context, event FiredEvent, date time.Time) error {
	p, err := h.prescriptions.Get(ctx, event.PrescriptionID)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			h.logger.Info("alert fired for deleted prescription, nothing to do",
				zap.Int64("prescription_id", event.PrescriptionID),
				zap.Int64("request_key", event.RequestKey))
			return nil
		}
		return fmt.Errorf("load prescription %d: %w", event.PrescriptionID, err)
	}

	confirmed := 0
	for _, drug := range p.Drugs {
		if !timeslot.Contains(drug.TimeSlots, event.TimeSlot) {
			continue
		}
		// A stale timer can fire for a date that an edited course no
		// longer covers; such a firing confirms nothing.
		if !schedule.InCourse(p.StartDate, drug.TotalDays, date) {
			h.logger.Info("alert fired outside the drug's course, skipping",
				zap.Int64("drug_id", drug.ID),
				zap.String("date", event.ScheduledDate))
			continue
		}
		key := ledger.NewKey(drug.ID, date, event.TimeSlot)
		if _, err := h.ledger.SetCompleted(ctx, key, true); err != nil {
			return fmt.Errorf("confirm drug %d: %w", drug.ID, err)
		}
		confirmed++
	}

	h.logger.Info("alert firing confirmed",
		zap.Int64("prescription_id", event.PrescriptionID),
		zap.String("time_slot", string(event.TimeSlot)),
		zap.String("date", event.ScheduledDate),
		zap.Int("drugs_confirmed", confirmed))
	return nil
}
