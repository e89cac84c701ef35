// Package postgres provides PostgreSQL infrastructure components: schema
// migration and the transactional outbox used for change notification.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// schema is applied idempotently at service startup. The store is opened and
// closed explicitly by the composition root; nothing here is lazily
// initialized.
const schema = `
CREATE TABLE IF NOT EXISTS prescriptions (
	id          BIGSERIAL PRIMARY KEY,
	start_date  DATE NOT NULL,
	diagnosis   TEXT NOT NULL,
	hospital    TEXT NOT NULL DEFAULT '',
	department  TEXT NOT NULL DEFAULT '',
	pharmacy    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS drugs (
	id              BIGSERIAL PRIMARY KEY,
	prescription_id BIGINT NOT NULL REFERENCES prescriptions(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	dosage          TEXT NOT NULL DEFAULT '',
	frequency       TEXT NOT NULL DEFAULT '',
	total_days      INT NOT NULL,
	timing          TEXT NOT NULL DEFAULT '',
	memo            TEXT NOT NULL DEFAULT '',
	time_slots      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_drugs_prescription ON drugs (prescription_id);

CREATE TABLE IF NOT EXISTS drug_completions (
	id           BIGSERIAL PRIMARY KEY,
	drug_id      BIGINT NOT NULL REFERENCES drugs(id) ON DELETE CASCADE,
	date         DATE NOT NULL,
	time_slot    TEXT NOT NULL,
	is_completed BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at TIMESTAMPTZ,
	UNIQUE (drug_id, date, time_slot)
);

CREATE INDEX IF NOT EXISTS idx_drug_completions_date ON drug_completions (date);

CREATE TABLE IF NOT EXISTS alarm_preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_id   TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	kafka_topic    TEXT NOT NULL,
	kafka_key      TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	retry_count    INT NOT NULL DEFAULT 0,
	last_error     TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed ON outbox (created_at) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS inbox (
	idempotency_key TEXT PRIMARY KEY,
	handler_name    TEXT NOT NULL,
	status          TEXT NOT NULL,
	payload         JSONB,
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at      TIMESTAMPTZ
);
`

// Migrate applies the engine schema. Safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("schema migration applied")
	return nil
}
