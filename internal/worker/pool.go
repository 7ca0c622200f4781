package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/calc-jobs/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			// In-flight jobs finish on shutdown; Stop bounds how long that takes
			jobCtx := context.WithoutCancel(ctx)
			err := w.processor.Process(jobCtx, msg.Payload)
			w.settle(jobCtx, workerName, msg, err)
		}
	}
}

// settle acknowledges the delivery according to the processing result.
// Failures are retried by republishing with the next attempt number until
// maxAttempts is reached, after which the delivery is dead-lettered.
func (w *Worker) settle(ctx context.Context, workerName string, msg *domain.JobMessage, err error) {
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.Payload.JobID),
		slog.Int("attempt", msg.Attempt),
	)

	if err == nil {
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}
		return
	}

	if !w.shouldRetry(err, msg.Attempt) {
		logger.Warn("Job failed permanently, dead-lettering",
			slog.Int("max_attempts", w.maxAttempts),
			slog.Any("error", err),
		)
		if nackErr := msg.Delivery.Nack(false, false); nackErr != nil {
			logger.Error("Failed to NACK message", slog.Any("error", nackErr))
		}
		return
	}

	headers := amqp.Table{}
	for k, v := range msg.Delivery.Headers {
		headers[k] = v
	}
	headers[domain.HeaderAttempt] = int32(msg.Attempt + 1)

	if pubErr := w.queue.Publish(ctx, msg.Delivery.Body, domain.ContentTypeJSON, headers); pubErr != nil {
		logger.Error("Failed to republish job for retry, requeueing",
			slog.Any("error", pubErr),
		)
		if nackErr := msg.Delivery.Nack(false, true); nackErr != nil {
			logger.Error("Failed to NACK message", slog.Any("error", nackErr))
		}
		return
	}

	logger.Info("Job scheduled for retry",
		slog.Int("next_attempt", msg.Attempt+1),
		slog.Any("error", err),
	)
	if ackErr := msg.Delivery.Ack(false); ackErr != nil {
		logger.Error("Failed to ACK message", slog.Any("error", ackErr))
	}
}

// shouldRetry determines if a failed job gets another attempt
func (w *Worker) shouldRetry(err error, attempt int) bool {
	if domain.IsPermanent(err) {
		return false
	}
	return attempt < w.maxAttempts
}
