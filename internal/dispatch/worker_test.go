package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

func fastConfig() WorkerConfig {
	return WorkerConfig{
		Rate:         1000,
		BatchSize:    2,
		PollInterval: 5 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func TestWorkerRoutesByTopic(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)
	w := NewWorker(q, fastConfig(), nil)

	var (
		mu   sync.Mutex
		keys []string
	)
	require.NoError(t, w.Handle("ping", func(_ context.Context, msg *core.Message) error {
		mu.Lock()
		keys = append(keys, msg.Key)
		mu.Unlock()
		return nil
	}))

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "ping", Key: key}))
	}
	require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "pong", Key: "x"}))

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	require.Eventually(t, func() bool {
		handled, _, unrouted := w.Stats()
		return handled == 3 && unrouted == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestWorkerRetries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)
	w := NewWorker(q, fastConfig(), nil)

	var flakyCalls, brokenCalls atomic.Int32
	require.NoError(t, w.Handle("flaky", func(context.Context, *core.Message) error {
		if flakyCalls.Add(1) < 3 {
			return errors.New("try again")
		}
		return nil
	}))
	require.NoError(t, w.Handle("broken", func(context.Context, *core.Message) error {
		brokenCalls.Add(1)
		return errors.New("always")
	}))

	require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "flaky"}))
	require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "broken"}))
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.Eventually(t, func() bool {
		handled, failed, _ := w.Stats()
		return handled == 1 && failed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), flakyCalls.Load())
	assert.Equal(t, int32(4), brokenCalls.Load())
}

func TestWorkerRateLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)
	cfg := fastConfig()
	cfg.Rate = 50
	w := NewWorker(q, cfg, nil)
	require.NoError(t, w.Handle("tick", func(context.Context, *core.Message) error { return nil }))

	for range 5 {
		require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "tick"}))
	}
	start := time.Now()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.Eventually(t, func() bool {
		handled, _, _ := w.Stats()
		return handled == 5
	}, 2*time.Second, 2*time.Millisecond)
	// One token up front, then one every 20ms.
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestWorkerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(NewMemoryQueue(1), fastConfig(), nil)
	require.NoError(t, w.Start(ctx))
	cancel()
	// Stop still returns once the loop has exited on its own.
	require.NoError(t, w.Stop())
}

// brokenSource always reports pending work and fails to hand it out.
type brokenSource struct {
	calls atomic.Int32
}

func (s *brokenSource) Dequeue(context.Context, int) ([]*core.Message, error) {
	s.calls.Add(1)
	return nil, errors.New("connection reset")
}

func (s *brokenSource) Size() int { return 1 }

func TestWorkerWaitsAfterDequeueError(t *testing.T) {
	src := &brokenSource{}
	cfg := fastConfig()
	cfg.PollInterval = 20 * time.Millisecond
	w := NewWorker(src, cfg, nil)

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(110 * time.Millisecond)
	require.NoError(t, w.Stop())

	calls := src.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(2))
	assert.LessOrEqual(t, calls, int32(10))
}

func TestWorkerHandleValidation(t *testing.T) {
	w := NewWorker(NewMemoryQueue(1), WorkerConfig{}, nil)
	assert.Error(t, w.Handle("", func(context.Context, *core.Message) error { return nil }))
	assert.Error(t, w.Handle("t", nil))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.Error(t, w.Handle("late", func(context.Context, *core.Message) error { return nil }))
}
