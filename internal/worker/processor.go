package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/job"
)

// JobStore persists job state transitions
type JobStore interface {
	UpdateStatus(ctx context.Context, jobID string, status job.Status) error
	Complete(ctx context.Context, jobID string, result float64, insight string) error
}

// UpdatePublisher pushes job updates to realtime subscribers
type UpdatePublisher interface {
	Publish(ctx context.Context, jobGroupID string, update job.Update) error
}

// InsightSource returns a remark about a result. It never fails.
type InsightSource interface {
	Insight(ctx context.Context, n float64) string
}

// Processor runs a single job payload through its lifecycle
type Processor struct {
	store     JobStore
	publisher UpdatePublisher
	insights  InsightSource
	delay     time.Duration
	logger    *slog.Logger
}

// NewProcessor creates a Processor. delay is an artificial pause between
// PROCESSING and the computation.
func NewProcessor(store JobStore, publisher UpdatePublisher, insights InsightSource, delay time.Duration, logger *slog.Logger) *Processor {
	return &Processor{
		store:     store,
		publisher: publisher,
		insights:  insights,
		delay:     delay,
		logger:    logger,
	}
}

// Process moves the job to PROCESSING, computes the result, attaches an
// insight and marks it COMPLETED. On any failure the job is marked FAILED and
// the original error is returned.
func (p *Processor) Process(ctx context.Context, payload job.Payload) error {
	logger := p.logger.With(
		slog.String("job_id", payload.JobID),
		slog.String("job_group_id", payload.JobGroupID),
		slog.String("operation", string(payload.Operation)),
	)

	logger.Info("Processing job",
		slog.Float64("a", payload.A),
		slog.Float64("b", payload.B),
	)
	if !payload.Operation.Valid() {
		logger.Warn("Unknown operation, result will be 0")
	}

	result, err := p.run(ctx, payload)
	if err != nil {
		logger.Error("Job failed", slog.Any("error", err))
		p.fail(ctx, payload, logger)
		return fmt.Errorf("failed to process job %s: %w", payload.JobID, err)
	}

	logger.Info("Job completed", slog.Float64("result", result))
	return nil
}

func (p *Processor) run(ctx context.Context, payload job.Payload) (float64, error) {
	if err := p.store.UpdateStatus(ctx, payload.JobID, job.StatusProcessing); err != nil {
		return 0, fmt.Errorf("failed to mark job processing: %w", err)
	}
	p.publish(ctx, payload, job.Update{
		JobID:  payload.JobID,
		Type:   payload.Operation,
		Status: job.StatusProcessing,
	})

	if err := p.wait(ctx); err != nil {
		return 0, err
	}

	result := job.Compute(payload.Operation, payload.A, payload.B)
	insight := p.insights.Insight(ctx, result)

	if err := p.store.Complete(ctx, payload.JobID, result, insight); err != nil {
		return 0, fmt.Errorf("failed to mark job completed: %w", err)
	}
	p.publish(ctx, payload, job.Update{
		JobID:         payload.JobID,
		Type:          payload.Operation,
		Status:        job.StatusCompleted,
		Result:        &result,
		ResultInsight: &insight,
	})

	return result, nil
}

func (p *Processor) wait(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}

	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job processing canceled: %w", ctx.Err())
	}
}

// fail runs even when ctx is already canceled so the row does not stay PROCESSING
func (p *Processor) fail(ctx context.Context, payload job.Payload, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := p.store.UpdateStatus(ctx, payload.JobID, job.StatusFailed); err != nil {
		logger.Error("Failed to mark job failed", slog.Any("error", err))
	}

	p.publish(ctx, payload, job.Update{
		JobID:  payload.JobID,
		Type:   payload.Operation,
		Status: job.StatusFailed,
	})
}

// publish is best effort: subscribers can always recover state by rejoining
func (p *Processor) publish(ctx context.Context, payload job.Payload, update job.Update) {
	if err := p.publisher.Publish(ctx, payload.JobGroupID, update); err != nil {
		p.logger.Warn("Failed to publish job update",
			slog.String("job_id", payload.JobID),
			slog.String("status", string(update.Status)),
			slog.Any("error", err),
		)
	}
}
