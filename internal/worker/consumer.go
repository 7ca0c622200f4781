package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming with QoS bounded to the prefetch count
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.queue.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool. It
// reports true when the delivery channel was closed by the broker.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return false

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return true
			}

			msg, err := decodeDelivery(delivery)
			if err != nil {
				w.logger.Error("Dropping malformed job message",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				// NACK without requeue - malformed messages go to the dead-letter exchange
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.Payload.JobID),
					slog.Int("attempt", msg.Attempt),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// NACK with requeue so another consumer picks it up
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return false
			}
		}
	}
}

// decodeDelivery validates the payload ids and reads the attempt counter.
// An unknown operation is passed through; it computes to 0.
func decodeDelivery(d amqp.Delivery) (*domain.JobMessage, error) {
	var payload job.Payload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	groupID, err := uuid.Parse(payload.JobGroupID)
	if err != nil {
		return nil, fmt.Errorf("%w: jobGroupId: %v", domain.ErrInvalidPayload, err)
	}
	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return nil, fmt.Errorf("%w: jobId: %v", domain.ErrInvalidPayload, err)
	}

	payload.JobGroupID = groupID.String()
	payload.JobID = jobID.String()

	return &domain.JobMessage{
		Payload:  payload,
		Attempt:  attemptOf(d.Headers),
		Delivery: d,
	}, nil
}

// attemptOf returns the 1-based delivery attempt recorded in headers
func attemptOf(headers amqp.Table) int {
	var n int
	switch v := headers[domain.HeaderAttempt].(type) {
	case int:
		n = v
	case int8:
		n = int(v)
	case int16:
		n = int(v)
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case string:
		n, _ = strconv.Atoi(v)
	}
	if n < 1 {
		return 1
	}
	return n
}
