package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAllJobs(t *testing.T) {
	pool := New(Config{Workers: 4, QueueSize: 16}, nil)
	ctx := context.Background()
	pool.Start(ctx)

	var ran int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(ctx, Job{
			Name: "job",
			Run: func(context.Context) error {
				atomic.AddInt64(&ran, 1)
				return nil
			},
		}))
	}

	failures := pool.Wait()
	assert.Empty(t, failures)
	assert.Equal(t, int64(20), atomic.LoadInt64(&ran))
	assert.Equal(t, int64(20), pool.Stats().Completed)
}

func TestPool_CollectsFailuresAndContinues(t *testing.T) {
	pool := New(Config{Workers: 2, QueueSize: 8, MaxRetries: 0}, nil)
	ctx := context.Background()
	pool.Start(ctx)

	boom := errors.New("sink unavailable")
	var succeeded int64

	require.NoError(t, pool.Submit(ctx, Job{Name: "bad", Run: func(context.Context) error { return boom }}))
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(ctx, Job{
			Name: "good",
			Run: func(context.Context) error {
				atomic.AddInt64(&succeeded, 1)
				return nil
			},
		}))
	}

	failures := pool.Wait()
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].Name)
	assert.ErrorIs(t, failures[0].Err, boom)
	assert.Equal(t, int64(5), atomic.LoadInt64(&succeeded), "one failure does not stop the rest")
}

func TestPool_RetriesTransientFailure(t *testing.T) {
	pool := New(Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: 1}, nil)
	ctx := context.Background()
	pool.Start(ctx)

	var attempts int64
	require.NoError(t, pool.Submit(ctx, Job{
		Name: "flaky",
		Run: func(context.Context) error {
			if atomic.AddInt64(&attempts, 1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))

	failures := pool.Wait()
	assert.Empty(t, failures)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
	assert.Equal(t, int64(2), pool.Stats().Retried)
}

func TestPool_SubmitAfterWaitFails(t *testing.T) {
	pool := New(Config{Workers: 1, QueueSize: 1}, nil)
	ctx := context.Background()
	pool.Start(ctx)
	pool.Wait()

	err := pool.Submit(ctx, Job{Name: "late", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
}
