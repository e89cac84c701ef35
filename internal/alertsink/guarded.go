package alertsink

import (
	"context"

	"github.com/medikeep/go-adherence/pkg/circuitbreaker"
)

// GuardedSink routes Register calls through a circuit breaker. Cancel stays
// unguarded: cancellation must keep working while registration is failing,
// otherwise a reschedule pass could strand stale alerts.
type GuardedSink struct {
	inner   Sink
	breaker *circuitbreaker.Breaker
}

func NewGuardedSink(inner Sink, breaker *circuitbreaker.Breaker) *GuardedSink {
	return &GuardedSink{inner: inner, breaker: breaker}
}

func (g *GuardedSink) Register(ctx context.Context, reg Registration) error {
	return g.breaker.Do(ctx, func() error {
		return g.inner.Register(ctx, reg)
	})
}

func (g *GuardedSink) Cancel(ctx context.Context, requestKey int64) error {
	return g.inner.Cancel(ctx, requestKey)
}
