package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
)

// PostgresStore persists preferences as flat key/value rows in
// alarm_preferences.
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

// Load reads every stored key over the defaults, so missing keys keep their
// default values and unknown keys are ignored with a log line.
func (s *PostgresStore) Load(ctx context.Context) (Preferences, error) {
	prefs := Default()

	rows, err := s.pool.Query(ctx, "SELECT key, value FROM alarm_preferences")
	if err != nil {
		return Preferences{}, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Preferences{}, fmt.Errorf("scan preference: %w", err)
		}

		switch {
		case key == keyMedicationAlerts:
			prefs.MedicationAlertsEnabled = value == strconv.FormatBool(true)
		case key == keyCourseEndAlert:
			prefs.CourseEndAlertEnabled = value == strconv.FormatBool(true)
		case strings.HasPrefix(key, slotTimePrefix):
			slot := timeslot.Normalize(strings.TrimPrefix(key, slotTimePrefix))
			if !slot.Valid() {
				s.logger.Warn("unknown slot in preferences", zap.String("key", key))
				continue
			}
			if _, _, err := ParseClock(value); err != nil {
				s.logger.Warn("unparsable slot time in preferences",
					zap.String("key", key),
					zap.String("value", value))
				continue
			}
			prefs.SlotTimes[slot] = value
		default:
			s.logger.Warn("unknown preference key", zap.String("key", key))
		}
	}
	return prefs, rows.Err()
}

// Save upserts one key.
func (s *PostgresStore) Save(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO alarm_preferences (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}
