package core

import (
	"context"
	"time"
)

// Message is a unit of asynchronous work handed to a Dispatcher.
type Message struct {
	// Topic names the task, e.g. "find_and_notify_drivers".
	Topic string

	// Key groups related messages for ordered delivery.
	Key string

	// Body holds the task arguments.
	Body map[string]any

	// Timestamp is when the message was produced.
	Timestamp time.Time
}

// Dispatcher delivers messages to background workers.
type Dispatcher interface {
	// Dispatch publishes msg. It returns once the message is accepted.
	Dispatch(ctx context.Context, msg *Message) error

	// Close flushes pending messages and releases resources.
	Close() error
}
