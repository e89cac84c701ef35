// Package idempotency implements the inbox pattern. Alert firings arrive over
// Kafka at-least-once; the inbox makes re-deliveries observable no-ops so a
// dose is never auto-confirmed twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of an inbox entry.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

var (
	// ErrDuplicate reports that the message was already handled.
	ErrDuplicate = errors.New("idempotency: already processed")
	// ErrInProgress reports that another worker holds the entry.
	ErrInProgress = errors.New("idempotency: handling in progress")
)

// AlertKey builds the idempotency key for one alert firing. The request key
// alone is reused across days for repeating reminders, so the scheduled date
// is part of the key.
func AlertKey(requestKey int64, scheduledDate time.Time) string {
	return "alert:" + strconv.FormatInt(requestKey, 10) + ":" + scheduledDate.Format("2006-01-02")
}

// Config controls entry lifetime and crash recovery.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	// StaleAfter is how long a STARTED entry may sit before another worker
	// may take it over.
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:             7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		StaleAfter:      5 * time.Minute,
	}
}

// Inbox guards message handlers behind a durable dedup table.
type Inbox struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}
}

func NewInbox(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("idempotency-inbox"),
		done:   make(chan struct{}),
	}
}

// HandlerFunc runs the business logic for one message.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Outcome reports how Process resolved a message.
type Outcome struct {
	Duplicate bool
	Recovered bool
	Result    json.RawMessage
}

// terminalError marks an error as not worth retrying.
type terminalError struct{ err error }

func (t terminalError) Error() string { return t.err.Error() }
func (t terminalError) Unwrap() error { return t.err }

// Terminal wraps err so Process records the entry as FAILED instead of
// RECOVERABLE.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// Process runs fn at most once per key. A second delivery of a finished key
// returns the stored result with Duplicate set; a stale STARTED entry is
// taken over.
func (i *Inbox) Process(ctx context.Context, key, handler string, payload json.RawMessage, fn HandlerFunc) (*Outcome, error) {
	ctx, span := i.tracer.Start(ctx, "inbox.process",
		trace.WithAttributes(
			attribute.String("idempotency.key", key),
			attribute.String("idempotency.handler", handler),
		))
	defer span.End()

	entry, err := i.load(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load inbox entry: %w", err)
	}

	recovered := false
	if entry != nil {
		switch entry.status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("idempotency.duplicate", true))
			return &Outcome{Duplicate: true, Result: entry.result}, nil
		case StatusFailed:
			return nil, fmt.Errorf("%w: key %s previously failed", ErrDuplicate, key)
		case StatusStarted:
			if time.Since(entry.updatedAt) <= i.config.StaleAfter {
				return nil, ErrInProgress
			}
			if err := i.setStatus(ctx, key, StatusRecoverable, nil); err != nil {
				return nil, fmt.Errorf("reclaim stale entry: %w", err)
			}
			recovered = true
		case StatusRecoverable:
			recovered = true
		}
	}

	if err := i.claim(ctx, key, handler, payload); err != nil {
		return nil, err
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		var term terminalError
		if errors.As(handlerErr, &term) {
			status = StatusFailed
		}
		errPayload, _ := json.Marshal(map[string]string{"error": handlerErr.Error()})
		if err := i.setStatus(ctx, key, status, errPayload); err != nil {
			i.logger.Error("failed to record handler error", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	if err := i.setStatus(ctx, key, StatusFinished, result); err != nil {
		// The handler succeeded; a redelivery will re-run it, which the
		// handler must tolerate.
		i.logger.Error("failed to mark inbox entry finished", zap.String("key", key), zap.Error(err))
	}

	return &Outcome{Recovered: recovered, Result: result}, nil
}

type inboxEntry struct {
	status    Status
	result    json.RawMessage
	updatedAt time.Time
}

func (i *Inbox) load(ctx context.Context, key string) (*inboxEntry, error) {
	query := `
		SELECT status, result, updated_at
		FROM inbox
		WHERE idempotency_key = $1`

	entry := &inboxEntry{}
	err := i.pool.QueryRow(ctx, query, key).Scan(&entry.status, &entry.result, &entry.updatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// claim inserts the entry as STARTED, or takes over a RECOVERABLE one. Any
// other conflict means a concurrent or prior claim.
func (i *Inbox) claim(ctx context.Context, key, handler string, payload json.RawMessage) error {
	query := `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key`

	var claimed string
	err := i.pool.QueryRow(ctx, query, key, handler, StatusStarted, payload, time.Now().Add(i.config.TTL)).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("claim inbox entry: %w", err)
	}
	return nil
}

func (i *Inbox) setStatus(ctx context.Context, key string, status Status, result json.RawMessage) error {
	query := `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3`

	_, err := i.pool.Exec(ctx, query, status, result, key)
	return err
}

// StartCleanup launches the periodic expiry sweep.
func (i *Inbox) StartCleanup(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	go i.cleanupLoop(ctx)
}

// Stop halts the cleanup sweep.
func (i *Inbox) Stop() {
	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
}

func (i *Inbox) cleanupLoop(ctx context.Context) {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	result, err := i.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return err
	}
	if n := result.RowsAffected(); n > 0 {
		i.logger.Debug("expired inbox entries removed", zap.Int64("deleted", n))
	}
	return nil
}

// RecoverStale flips STARTED entries older than StaleAfter to RECOVERABLE.
// Run once on startup to unstick entries left by a crashed worker.
func (i *Inbox) RecoverStale(ctx context.Context) (int64, error) {
	query := `
		UPDATE inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - $1::interval`

	result, err := i.pool.Exec(ctx, query, i.config.StaleAfter.String())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
