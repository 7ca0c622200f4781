package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/atomic"
)

// Queue is the part of the RabbitMQ client the worker uses
type Queue interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, body []byte, contentType string, headers amqp.Table) error
}

// JobProcessor handles one decoded payload
type JobProcessor interface {
	Process(ctx context.Context, payload job.Payload) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Queue         Queue
	Processor     JobProcessor
	Concurrency   int
	MaxAttempts   int
	PrefetchCount int
	WorkerID      string
}

// Worker consumes job payloads from the queue and runs them on a bounded pool
type Worker struct {
	logger        *slog.Logger
	queue         Queue
	processor     JobProcessor
	concurrency   int
	maxAttempts   int
	prefetchCount int
	workerID      string
	jobsChan      chan *domain.JobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
	closing       *atomic.Bool
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	return &Worker{
		logger:        cfg.Logger,
		queue:         cfg.Queue,
		processor:     cfg.Processor,
		concurrency:   concurrency,
		maxAttempts:   maxAttempts,
		prefetchCount: prefetch,
		workerID:      workerID,
		jobsChan:      make(chan *domain.JobMessage),
		stopChan:      make(chan struct{}),
		closing:       atomic.NewBool(false),
	}
}

// Start consumes until ctx is canceled. It returns an error when the
// consumer cannot be set up or the broker closes the delivery channel.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if closed := w.startMessageDispatcher(ctx, deliveries); closed {
		return fmt.Errorf("rabbitmq delivery channel closed")
	}

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop waits for in-flight jobs to finish. Safe to call more than once.
func (w *Worker) Stop() {
	if !w.closing.CompareAndSwap(false, true) {
		return
	}

	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
