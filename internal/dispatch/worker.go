package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Source is a queue a Worker drains. MemoryQueue implements it.
type Source interface {
	Dequeue(ctx context.Context, batchSize int) ([]*core.Message, error)
	Size() int
}

// Handler runs the task carried by one message.
type Handler func(ctx context.Context, msg *core.Message) error

// WorkerConfig contains configuration for a Worker.
type WorkerConfig struct {
	// Rate is the maximum number of messages handled per second.
	Rate float64

	// BatchSize is how many messages to dequeue at once.
	BatchSize int

	// PollInterval is how often to check for new messages when the queue is empty.
	PollInterval time.Duration

	// MaxRetries is how many times a failed handler is retried.
	MaxRetries int

	// RetryBackoff is the base of the exponential backoff between retries.
	RetryBackoff time.Duration
}

// DefaultWorkerConfig returns sensible defaults for a Worker.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Rate:         50,
		BatchSize:    10,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Worker drains a Source in the background and hands each message to the
// handler registered for its topic, at a bounded rate.
type Worker struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	source   Source
	handlers map[string]Handler
	config   WorkerConfig
	logger   *slog.Logger

	statsMu  sync.Mutex
	handled  int
	failed   int
	unrouted int
}

// NewWorker creates a worker draining source. Zero config fields take the
// defaults.
func NewWorker(source Source, config WorkerConfig, logger *slog.Logger) *Worker {
	def := DefaultWorkerConfig()
	if config.Rate <= 0 {
		config.Rate = def.Rate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source:   source,
		handlers: make(map[string]Handler),
		config:   config,
		logger:   logger.With(slog.String("component", "worker")),
	}
}

// Handle registers h for topic. Registering after Start is an error.
func (w *Worker) Handle(topic string, h Handler) error {
	if topic == "" || h == nil {
		return fmt.Errorf("worker: topic and handler are required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker: cannot register %q while running", topic)
	}
	w.handlers[topic] = h
	return nil
}

// Start begins draining in a separate goroutine. Starting a running worker
// is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.run(ctx, w.stopCh, w.doneCh)
	w.logger.Info("worker started",
		slog.Float64("rate", w.config.Rate),
		slog.Int("topics", len(w.handlers)))
	return nil
}

// Stop waits for the message in progress and stops the worker.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	handled, failed, unrouted := w.Stats()
	w.logger.Info("worker stopped",
		slog.Int("handled", handled),
		slog.Int("failed", failed),
		slog.Int("unrouted", unrouted))
	return nil
}

// IsRunning returns whether the worker is currently running.
func (w *Worker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns the number of messages handled, failed after all retries
// and dropped for lack of a handler.
func (w *Worker) Stats() (handled, failed, unrouted int) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.handled, w.failed, w.unrouted
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// Stop and ctx both end the loop, including a pending limiter wait.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(w.config.Rate), 1)
	for {
		if ctx.Err() != nil {
			return
		}
		if w.source.Size() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		msgs, err := w.source.Dequeue(ctx, w.config.BatchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				return
			}
			w.logger.ErrorContext(ctx, "dequeue failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}
		for _, msg := range msgs {
			if msg == nil {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			w.process(ctx, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg *core.Message) {
	w.mu.RLock()
	h, ok := w.handlers[msg.Topic]
	w.mu.RUnlock()
	if !ok {
		w.logger.WarnContext(ctx, "no handler for topic, dropping message",
			slog.String("topic", msg.Topic),
			slog.String("key", msg.Key))
		w.count(&w.unrouted)
		return
	}

	backoff := w.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := h(ctx, msg)
		if err == nil {
			w.count(&w.handled)
			return
		}
		if attempt >= w.config.MaxRetries || ctx.Err() != nil {
			w.logger.ErrorContext(ctx, "handler failed",
				slog.String("topic", msg.Topic),
				slog.String("key", msg.Key),
				slog.Int("attempts", attempt+1),
				slog.Any("error", err))
			w.count(&w.failed)
			return
		}
		w.logger.WarnContext(ctx, "handler failed, retrying",
			slog.String("topic", msg.Topic),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			w.count(&w.failed)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (w *Worker) count(n *int) {
	w.statsMu.Lock()
	*n++
	w.statsMu.Unlock()
}
