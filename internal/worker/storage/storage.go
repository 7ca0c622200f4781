package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// UpdateStatus sets the job status. No transition guard is applied: a
// redelivered job may move from a terminal state back to PROCESSING.
func (s *Storage) UpdateStatus(ctx context.Context, jobID string, status job.Status) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, status, jobID)
	if err != nil {
		return classify(fmt.Errorf("failed to update job status: %w", err))
	}

	if err := expectOneRow(result); err != nil {
		return err
	}

	s.logger.Debug("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return nil
}

// Complete stores the result and insight and marks the job COMPLETED in one statement
func (s *Storage) Complete(ctx context.Context, jobID string, result float64, insight string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    result_insight = $3,
		    updated_at = NOW()
		WHERE id = $4
	`

	res, err := s.db.ExecContext(ctx, query, job.StatusCompleted, result, insight, jobID)
	if err != nil {
		return classify(fmt.Errorf("failed to complete job: %w", err))
	}

	if err := expectOneRow(res); err != nil {
		return err
	}

	s.logger.Debug("Job completed",
		slog.String("job_id", jobID),
		slog.Float64("result", result),
	)

	return nil
}

// ListJobsByGroup returns the jobs of a group in dispatch order
func (s *Storage) ListJobsByGroup(ctx context.Context, groupID string) ([]job.Job, error) {
	query := `
		SELECT id, job_group_id, type, status, result, result_insight, created_at, updated_at
		FROM jobs
		WHERE job_group_id = $1
		ORDER BY CASE type
			WHEN 'ADD' THEN 1
			WHEN 'SUBTRACT' THEN 2
			WHEN 'MULTIPLY' THEN 3
			WHEN 'DIVIDE' THEN 4
		END
	`

	var jobs []job.Job
	if err := s.db.SelectContext(ctx, &jobs, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list jobs by group: %w", err)
	}

	return jobs, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(result rowsAffecter) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// classify marks data and integrity violations as permanent so they are not retried
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return domain.NewPermanentError(err)
		}
	}
	return err
}
