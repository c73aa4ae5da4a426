package dispatch

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

const defaultBufferSize = 1000

// MemoryQueue implements core.Dispatcher with a buffered channel. Consumers
// drain it with Dequeue.
type MemoryQueue struct {
	queue  chan *core.Message
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding at most bufferSize messages.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryQueue{queue: make(chan *core.Message, bufferSize)}
}

// Dispatch enqueues msg without blocking. A full queue is an error.
func (q *MemoryQueue) Dispatch(ctx context.Context, msg *core.Message) error {
	if err := prepare(msg); err != nil {
		return err
	}
	// The read lock keeps Close from closing the channel mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue returns up to batchSize messages in FIFO order without waiting for
// more to arrive.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.Message, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	msgs := make([]*core.Message, 0, min(batchSize, len(q.queue)))
	for range batchSize {
		select {
		case msg, ok := <-q.queue:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, msg)
		case <-ctx.Done():
			return msgs, ctx.Err()
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

// Size returns the number of queued messages.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close stops accepting messages. Queued messages can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
