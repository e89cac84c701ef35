// Package circuitbreaker wraps sony/gobreaker for guarding calls into
// external collaborators, with OpenTelemetry counters and zap state logging.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOpen reports that the breaker rejected the call without running it.
var ErrOpen = errors.New("circuitbreaker: open")

// State mirrors gobreaker's states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes when the breaker trips and recovers.
type Config struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counts.
	Interval time.Duration
	// Timeout before an open breaker probes again.
	Timeout time.Duration
	// Trip after this many consecutive failures (below MinRequests)...
	FailureThreshold uint32
	// ...or once this ratio of requests failed (at or above MinRequests).
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig suits a local alert sink: registration calls are cheap, so
// trip fast and probe again soon.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// Breaker guards error-returning calls.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	rejected metric.Int64Counter
	failures metric.Int64Counter

	mu    sync.RWMutex
	state State
}

func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuitbreaker"),
		state:  StateClosed,
	}

	meter := otel.Meter("circuitbreaker")
	var err error
	b.rejected, err = meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Calls rejected while the breaker was open"))
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}
	b.failures, err = meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Calls that returned an error"))
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	})

	return b, nil
}

// Do runs fn unless the breaker is open. An open breaker returns ErrOpen.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	ctx, span := b.tracer.Start(ctx, "circuitbreaker.do",
		trace.WithAttributes(
			attribute.String("breaker.name", b.name),
			attribute.String("breaker.state", string(b.State())),
		))
	defer span.End()

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("name", b.name)))
		span.SetAttributes(attribute.Bool("breaker.open", true))
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	b.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("name", b.name)))
	span.RecordError(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	b.mu.Lock()
	b.state = mapState(to)
	b.mu.Unlock()

	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", string(mapState(from))),
		zap.String("to", string(mapState(to))))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
