package alertsink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	registerErr error
	cancelErr   error
}

func (s *stubSink) Register(context.Context, Registration) error { return s.registerErr }
func (s *stubSink) Cancel(context.Context, int64) error          { return s.cancelErr }

func TestMeteredSink_CountsSuccesses(t *testing.T) {
	registered := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_registered_total"})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cancelled_total"})
	sink := NewMeteredSink(&stubSink{}, registered, cancelled)

	ctx := context.Background()
	require.NoError(t, sink.Register(ctx, Registration{RequestKey: 1, FireAt: time.Now().Add(time.Hour)}))
	require.NoError(t, sink.Register(ctx, Registration{RequestKey: 2, FireAt: time.Now().Add(time.Hour)}))
	require.NoError(t, sink.Cancel(ctx, 1))

	assert.Equal(t, 2.0, testutil.ToFloat64(registered))
	assert.Equal(t, 1.0, testutil.ToFloat64(cancelled))
}

func TestMeteredSink_FailuresNotCounted(t *testing.T) {
	registered := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_registered_total"})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cancelled_total"})
	sink := NewMeteredSink(&stubSink{
		registerErr: errors.New("sink unavailable"),
		cancelErr:   errors.New("sink unavailable"),
	}, registered, cancelled)

	ctx := context.Background()
	assert.Error(t, sink.Register(ctx, Registration{RequestKey: 1}))
	assert.Error(t, sink.Cancel(ctx, 1))

	assert.Equal(t, 0.0, testutil.ToFloat64(registered))
	assert.Equal(t, 0.0, testutil.ToFloat64(cancelled))
}
