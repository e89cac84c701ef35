package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/prescription"
	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// PostgresStore persists completion records in the drug_completions table.
// The unique (drug_id, date, time_slot) constraint enforces the
// one-record-per-key invariant at the storage layer as well.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a store.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Get loads the record for key.
func (s *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	query := `
		SELECT id, drug_id, date, time_slot, is_completed, completed_at
		FROM drug_completions
		WHERE drug_id = $1 AND date = $2 AND time_slot = $3
	`

	rec := &Record{}
	var slot string
	err := s.pool.QueryRow(ctx, query, key.DrugID, prescription.DateOnly(key.Date), string(key.Slot)).Scan(
		&rec.ID, &rec.DrugID, &rec.Date, &slot, &rec.IsCompleted, &rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("query completion: %w", err)
	}
	rec.Slot = timeslot.Normalize(slot)
	return rec, nil
}

// Upsert writes the record, creating it on first write for its key.
func (s *PostgresStore) Upsert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO drug_completions (drug_id, date, time_slot, is_completed, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (drug_id, date, time_slot) DO UPDATE
		SET is_completed = EXCLUDED.is_completed, completed_at = EXCLUDED.completed_at
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		rec.DrugID, prescription.DateOnly(rec.Date), string(rec.Slot),
		rec.IsCompleted, rec.CompletedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("upsert completion: %w", err)
	}
	return nil
}

// ForDate loads every record on a calendar date.
func (s *PostgresStore) ForDate(ctx context.Context, date time.Time) ([]*Record, error) {
	query := `
		SELECT id, drug_id, date, time_slot, is_completed, completed_at
		FROM drug_completions
		WHERE date = $1
		ORDER BY drug_id, time_slot
	`

	rows, err := s.pool.Query(ctx, query, prescription.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var slot string
		err := rows.Scan(&rec.ID, &rec.DrugID, &rec.Date, &slot, &rec.IsCompleted, &rec.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.Slot = timeslot.Normalize(slot)
		out = append(out, rec)
	}
	return out, rows.Err()
}
