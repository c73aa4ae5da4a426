package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

const taskHeader = "task"

// messageWriter is the part of *kafka.Writer the dispatcher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the JSON value of a published message.
type envelope struct {
	Topic     string         `json:"topic"`
	Key       string         `json:"key,omitempty"`
	Body      map[string]any `json:"body"`
	Timestamp time.Time      `json:"timestamp"`
}

// KafkaDispatcher implements core.Dispatcher on a kafka-go Writer. Every task
// goes to one Kafka topic; the task name travels in the value and in a
// header so consumers can route without decoding.
type KafkaDispatcher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
	closed atomic.Bool
}

// NewKafkaDispatcher creates a synchronous producer for config.Topic.
func NewKafkaDispatcher(config registry.InternalKafkaConfig, logger *slog.Logger) (*KafkaDispatcher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		BatchBytes:   int64(config.MaxMessageBytes),
		MaxAttempts:  3,
	}
	d := newKafkaDispatcher(writer, config.Topic, logger)
	d.logger.Info("kafka dispatcher ready",
		slog.Any("brokers", config.Brokers),
		slog.Int("batch_size", config.BatchSize),
		slog.Int("required_acks", config.RequiredAcks))
	return d, nil
}

func newKafkaDispatcher(w messageWriter, topic string, logger *slog.Logger) *KafkaDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaDispatcher{
		writer: w,
		topic:  topic,
		logger: logger.With(slog.String("component", "kafka"), slog.String("topic", topic)),
	}
}

// Dispatch publishes msg and waits for the broker acknowledgement. Messages
// with the same Key land on the same partition.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg *core.Message) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := prepare(msg); err != nil {
		return err
	}
	km, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := d.writer.WriteMessages(ctx, km); err != nil {
		d.logger.ErrorContext(ctx, "failed to produce task",
			slog.String("task", msg.Topic),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	d.logger.DebugContext(ctx, "produced task",
		slog.String("task", msg.Topic),
		slog.String("key", msg.Key),
		slog.Int("bytes", len(km.Value)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Close flushes pending writes. It is safe to call more than once.
func (d *KafkaDispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if err := d.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

// EncodeMessage converts msg to its Kafka form.
func EncodeMessage(msg *core.Message) (kafka.Message, error) {
	value, err := json.Marshal(envelope{Topic: msg.Topic, Key: msg.Key, Body: msg.Body, Timestamp: msg.Timestamp})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal task %s: %w", msg.Topic, err)
	}
	km := kafka.Message{
		Value:   value,
		Time:    msg.Timestamp,
		Headers: []kafka.Header{{Key: taskHeader, Value: []byte(msg.Topic)}},
	}
	if msg.Key != "" {
		km.Key = []byte(msg.Key)
	}
	return km, nil
}

// DecodeMessage is the consumer-side inverse of EncodeMessage. Numbers in the
// body decode as int64 or float64.
func DecodeMessage(km kafka.Message) (*core.Message, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(km.Value))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task at offset %d: %w", km.Offset, err)
	}
	if env.Body != nil {
		core.NormalizeNumbers(env.Body)
	}
	return &core.Message{Topic: env.Topic, Key: env.Key, Body: env.Body, Timestamp: env.Timestamp}, nil
}
