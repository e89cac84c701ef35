// Package ledger tracks per-dose completion state. It owns the idempotent
// toggle semantics: every write path, interactive or alert-driven, goes
// through this package so the one-record-per-key invariant holds.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/infrastructure/redpanda"
)

// Key identifies one completion record: a drug on a date in a slot.
// Completion is tracked per day per slot, matching per-slot reminders.
type Key struct {
	DrugID int64
	Date   time.Time
	Slot   timeslot.Slot
}

// NewKey builds a key with the date truncated to its calendar day.
func NewKey(drugID int64, date time.Time, slot timeslot.Slot) Key {
	return Key{DrugID: drugID, Date: prescription.DateOnly(date), Slot: slot}
}

// Record is the persisted completion state for one key.
type Record struct {
	ID          int64         `json:"id"`
	DrugID      int64         `json:"drug_id"`
	Date        time.Time     `json:"date"`
	Slot        timeslot.Slot `json:"slot"`
	IsCompleted bool          `json:"is_completed"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// ErrNoRecord is returned by stores when no record exists for a key.
var ErrNoRecord = errors.New("no completion record")

// Store is the persistence surface the ledger writes through.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
	ForDate(ctx context.Context, date time.Time) ([]*Record, error)
}

// Publisher announces ledger writes; subscribers (the calendar UI feed)
// receive them without polling. Best effort: a publish failure never fails
// the write.
type Publisher interface {
	PublishAsync(ctx context.Context, topic, key string, value []byte)
}

// ChangedEvent is the payload published after every successful write.
type ChangedEvent struct {
	DrugID      int64         `json:"drug_id"`
	Date        string        `json:"date"`
	Slot        timeslot.Slot `json:"slot"`
	IsCompleted bool          `json:"is_completed"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// Ledger applies completion writes.
type Ledger struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	writes        prometheus.Counter
	writeFailures prometheus.Counter
}

// New creates a ledger. publisher may be nil.
func New(store Store, publisher Publisher, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Instrument sets counters updated on every completion write and write
// failure.
func (l *Ledger) Instrument(writes, failures prometheus.Counter) {
	l.writes = writes
	l.writeFailures = failures
}

func (l *Ledger) countWrite() {
	if l.writes != nil {
		l.writes.Inc()
	}
}

func (l *Ledger) countFailure() {
	if l.writeFailures != nil {
		l.writeFailures.Inc()
	}
}

// Toggle flips the completion state for key. A first toggle always marks the
// dose taken; subsequent toggles alternate. The completion timestamp is set
// when flipping to taken and cleared when flipping back.
func (l *Ledger) Toggle(ctx context.Context, key Key) (*Record, error) {
	rec, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNoRecord):
		rec = newRecord(key)
		rec.IsCompleted = true
	case err != nil:
		l.countFailure()
		return nil, fmt.Errorf("read completion record: %w", err)
	default:
		rec.IsCompleted = !rec.IsCompleted
	}

	if rec.IsCompleted {
		now := l.now().UTC()
		rec.CompletedAt = &now
	} else {
		rec.CompletedAt = nil
	}

	if err := l.store.Upsert(ctx, rec); err != nil {
		l.countFailure()
		return nil, fmt.Errorf("write completion record: %w", err)
	}

	l.countWrite()
	l.announce(ctx, rec)
	return rec, nil
}

// SetCompleted drives the record for key to the target state. Re-confirming
// an already-taken dose is a no-op success, not an error; the alert handler
// depends on that.
func (l *Ledger) SetCompleted(ctx context.Context, key Key, completed bool) (*Record, error) {
	rec, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNoRecord):
		rec = newRecord(key)
	case err != nil:
		l.countFailure()
		return nil, fmt.Errorf("read completion record: %w", err)
	default:
		if rec.IsCompleted == completed {
			return rec, nil
		}
	}

	rec.IsCompleted = completed
	if completed {
		now := l.now().UTC()
		rec.CompletedAt = &now
	} else {
		rec.CompletedAt = nil
	}

	if err := l.store.Upsert(ctx, rec); err != nil {
		l.countFailure()
		return nil, fmt.Errorf("write completion record: %w", err)
	}

	l.countWrite()
	l.announce(ctx, rec)
	return rec, nil
}

// BulkFailure records one drug's failed write within a bulk operation.
type BulkFailure struct {
	Key Key
	Err error
}

// BulkSet applies the same target state to many keys. Each write is
// independent: one failure is collected and the rest of the batch continues.
func (l *Ledger) BulkSet(ctx context.Context, keys []Key, completed bool) (applied int, failures []BulkFailure) {
	for _, key := range keys {
		if _, err := l.SetCompleted(ctx, key, completed); err != nil {
			l.logger.Error("bulk completion write failed",
				zap.Int64("drug_id", key.DrugID),
				zap.String("slot", string(key.Slot)),
				zap.Error(err))
			failures = append(failures, BulkFailure{Key: key, Err: err})
			continue
		}
		applied++
	}
	return applied, failures
}

// CompletionRate returns (completed, total) over the records that exist for
// date. Total counts records, not every obligation ever derivable; the
// progress indicator reflects what the user has interacted with.
func (l *Ledger) CompletionRate(ctx context.Context, date time.Time) (completed, total int, err error) {
	records, err := l.store.ForDate(ctx, date)
	if err != nil {
		return 0, 0, fmt.Errorf("read completion records: %w", err)
	}

	for _, rec := range records {
		total++
		if rec.IsCompleted {
			completed++
		}
	}
	return completed, total, nil
}

// RecordsForDate returns every record for a date, keyed for checklist joins.
func (l *Ledger) RecordsForDate(ctx context.Context, date time.Time) (map[Key]*Record, error) {
	records, err := l.store.ForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read completion records: %w", err)
	}

	out := make(map[Key]*Record, len(records))
	for _, rec := range records {
		out[NewKey(rec.DrugID, rec.Date, rec.Slot)] = rec
	}
	return out, nil
}

func newRecord(key Key) *Record {
	return &Record{
		DrugID: key.DrugID,
		Date:   prescription.DateOnly(key.Date),
		Slot:   key.Slot,
	}
}

func (l *Ledger) announce(ctx context.Context, rec *Record) {
	if l.publisher == nil {
		return
	}

	ev := ChangedEvent{
		DrugID:      rec.DrugID,
		Date:        rec.Date.Format(prescription.DateFormat),
		Slot:        rec.Slot,
		IsCompleted: rec.IsCompleted,
		OccurredAt:  l.now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("marshal of completion event failed", zap.Error(err))
		return
	}

	l.publisher.PublishAsync(ctx, redpanda.TopicCompletionChanged,
		fmt.Sprintf("%d:%s:%s", rec.DrugID, ev.Date, rec.Slot), payload)
}
