package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(3)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "t", Body: map[string]any{"n": i}}))
	}
	assert.Equal(t, 3, q.Size())
	assert.ErrorIs(t, q.Dispatch(ctx, &core.Message{Topic: "t"}), ErrQueueFull)

	msgs, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, msgs[0].Body["n"])
	assert.Equal(t, 1, msgs[1].Body["n"])
	assert.False(t, msgs[0].Timestamp.IsZero())

	msgs, err = q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryQueueRejectsInvalid(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()
	assert.ErrorIs(t, q.Dispatch(ctx, nil), ErrInvalidMessage)
	assert.ErrorIs(t, q.Dispatch(ctx, &core.Message{}), ErrInvalidMessage)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "t"}))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Dispatch(ctx, &core.Message{Topic: "t"}), ErrClosed)

	msgs, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemoryQueueConcurrentDispatch(t *testing.T) {
	q := NewMemoryQueue(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				assert.NoError(t, q.Dispatch(ctx, &core.Message{Topic: "t"}))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, q.Size())
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func TestKafkaDispatch(t *testing.T) {
	w := &fakeWriter{}
	d := newKafkaDispatcher(w, "entity-tasks", nil)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &core.Message{
		Topic:     "find_and_notify_drivers",
		Key:       "user-1",
		Body:      map[string]any{"ride_request_id": "r1", "radius": 2.5, "limit": 10},
		Timestamp: ts,
	}
	require.NoError(t, d.Dispatch(ctx, msg))
	require.Len(t, w.msgs, 1)

	km := w.msgs[0]
	assert.Equal(t, []byte("user-1"), km.Key)
	assert.Equal(t, ts, km.Time)
	require.Len(t, km.Headers, 1)
	assert.Equal(t, "task", km.Headers[0].Key)
	assert.Equal(t, "find_and_notify_drivers", string(km.Headers[0].Value))

	got, err := DecodeMessage(km)
	require.NoError(t, err)
	assert.Equal(t, "find_and_notify_drivers", got.Topic)
	assert.Equal(t, "user-1", got.Key)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, map[string]any{"ride_request_id": "r1", "radius": 2.5, "limit": int64(10)}, got.Body)
}

func TestKafkaDispatchErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	d := newKafkaDispatcher(w, "entity-tasks", nil)
	ctx := context.Background()

	err := d.Dispatch(ctx, &core.Message{Topic: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	assert.ErrorIs(t, d.Dispatch(ctx, &core.Message{}), ErrInvalidMessage)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, w.closed)
	assert.ErrorIs(t, d.Dispatch(ctx, &core.Message{Topic: "t"}), ErrClosed)
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage(kafka.Message{Value: []byte("not json"), Offset: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 42")
}

func TestNew(t *testing.T) {
	cfg := registry.DefaultConfig()
	d, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, d)
	require.NoError(t, d.Close())

	cfg.Dispatch.Type = "kafka"
	d, err = New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &KafkaDispatcher{}, d)
	require.NoError(t, d.Close())

	cfg.Dispatch.Kafka.Topic = ""
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg.Dispatch.Type = "carrier-pigeon"
	_, err = New(cfg, nil)
	assert.Error(t, err)

	_, err = New(nil, nil)
	assert.Error(t, err)
}
