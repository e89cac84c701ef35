package alertsink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MeteredSink counts successful registrations and cancellations on the way
// through to the wrapped sink.
type MeteredSink struct {
	inner      Sink
	registered prometheus.Counter
	cancelled  prometheus.Counter
}

func NewMeteredSink(inner Sink, registered, cancelled prometheus.Counter) *MeteredSink {
	return &MeteredSink{inner: inner, registered: registered, cancelled: cancelled}
}

func (m *MeteredSink) Register(ctx context.Context, reg Registration) error {
	if err := m.inner.Register(ctx, reg); err != nil {
		return err
	}
	m.registered.Inc()
	return nil
}

func (m *MeteredSink) Cancel(ctx context.Context, requestKey int64) error {
	if err := m.inner.Cancel(ctx, requestKey); err != nil {
		return err
	}
	m.cancelled.Inc()
	return nil
}
