// Package dispatch hands background tasks to workers. The memory queue serves
// single-process deployments and tests; the Kafka dispatcher publishes to a
// topic consumed by a separate worker fleet.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

var (
	// ErrClosed is returned when dispatching to a closed dispatcher.
	ErrClosed = errors.New("dispatcher is closed")

	// ErrQueueFull is returned when the memory queue has no free slot.
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrInvalidMessage is returned for a nil message or one without a topic.
	ErrInvalidMessage = errors.New("invalid dispatch message")
)

// New creates the dispatcher selected by config.Dispatch.Type.
func New(config *registry.InternalConfig, logger *slog.Logger) (core.Dispatcher, error) {
	if config == nil {
		return nil, fmt.Errorf("dispatch config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dc := config.Dispatch
	switch dc.Type {
	case "", "memory":
		return NewMemoryQueue(dc.BufferSize), nil
	case "kafka":
		return NewKafkaDispatcher(dc.Kafka, logger)
	default:
		return nil, fmt.Errorf("unsupported dispatch type: %s", dc.Type)
	}
}

// prepare checks msg and stamps it with the current time if unset.
func prepare(msg *core.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidMessage)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return nil
}
