package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/domain"
	"github.com/cuongbtq/calc-jobs/internal/api/model"
	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `id, job_group_id, type, status, result, result_insight, created_at, updated_at`

// orders jobs ADD, SUBTRACT, MULTIPLY, DIVIDE
const jobOrder = `CASE type
			WHEN 'ADD' THEN 1
			WHEN 'SUBTRACT' THEN 2
			WHEN 'MULTIPLY' THEN 3
			WHEN 'DIVIDE' THEN 4
		END`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	query := `
		SELECT id, email, name, created_at
		FROM users
		WHERE email = $1
	`

	err := s.db.GetContext(ctx, &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

// CreateGroupWithJobs inserts the group and its jobs in one transaction
func (s *Storage) CreateGroupWithJobs(ctx context.Context, group *job.Group, jobs []job.Job) error {
	return postgresql.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO job_groups (id, user_id, a, b, created_at)
			VALUES (:id, :user_id, :a, :b, :created_at)
		`, group)
		if err != nil {
			return fmt.Errorf("failed to create job group: %w", err)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO jobs (id, job_group_id, type, status, created_at, updated_at)
			VALUES (:id, :job_group_id, :type, :status, :created_at, :updated_at)
		`, jobs)
		if err != nil {
			return fmt.Errorf("failed to create jobs: %w", err)
		}

		return nil
	})
}

func (s *Storage) GetGroup(ctx context.Context, groupID string) (*job.Group, error) {
	var group job.Group
	query := `
		SELECT id, user_id, a, b, created_at
		FROM job_groups
		WHERE id = $1
	`

	err := s.db.GetContext(ctx, &group, query, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job group: %w", err)
	}

	return &group, nil
}

func (s *Storage) ListJobsByGroup(ctx context.Context, groupID string) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_group_id = $1 ORDER BY ` + jobOrder

	var jobs []job.Job
	if err := s.db.SelectContext(ctx, &jobs, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ListJobsByGroups returns the jobs of several groups keyed by group id
func (s *Storage) ListJobsByGroups(ctx context.Context, groupIDs []string) (map[string][]job.Job, error) {
	out := make(map[string][]job.Job, len(groupIDs))
	if len(groupIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_group_id = ANY($1) ORDER BY job_group_id, ` + jobOrder

	var jobs []job.Job
	if err := s.db.SelectContext(ctx, &jobs, query, pq.Array(groupIDs)); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	for _, j := range jobs {
		out[j.JobGroupID] = append(out[j.JobGroupID], j)
	}

	return out, nil
}

type GroupFilter struct {
	UserID   string
	PageSize int
	Cursor   *GroupCursor
}

// GroupCursor is the position after the last group of the previous page
type GroupCursor struct {
	CreatedAt time.Time
	GroupID   string
}

// ListGroups returns up to PageSize+1 groups newest first, so callers can
// tell whether another page exists
func (s *Storage) ListGroups(ctx context.Context, filter GroupFilter) ([]job.Group, error) {
	query := `
        SELECT id, user_id, a, b, created_at
        FROM job_groups
        WHERE user_id = $1
    `
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.GroupID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var groups []job.Group
	if err := s.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list job groups: %w", err)
	}

	return groups, nil
}
