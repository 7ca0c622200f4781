// Package service implements the dispatch, history and capability use cases
// of the API service independent of HTTP.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/domain"
	"github.com/cuongbtq/calc-jobs/internal/api/model"
	"github.com/cuongbtq/calc-jobs/internal/api/storage"
	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnauthenticated means no caller identity was presented
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller does not own the job group, or it does not exist
	ErrForbidden = errors.New("forbidden")

	ErrUnknownUser  = errors.New("unknown user")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

// Store is the persistence the service depends on
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateGroupWithJobs(ctx context.Context, group *job.Group, jobs []job.Job) error
	GetGroup(ctx context.Context, groupID string) (*job.Group, error)
	ListJobsByGroup(ctx context.Context, groupID string) ([]job.Job, error)
	ListJobsByGroups(ctx context.Context, groupIDs []string) (map[string][]job.Job, error)
	ListGroups(ctx context.Context, filter storage.GroupFilter) ([]job.Group, error)
}

// Enqueuer places payloads on the work queue and returns once the broker confirmed them
type Enqueuer interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string, headers amqp.Table) error
}

// TokenIssuer mints capability tokens for a job group
type TokenIssuer interface {
	Issue(groupID uuid.UUID) (string, error)
}

// Service holds the API use cases
type Service struct {
	store       Store
	queue       Enqueuer
	issuer      TokenIssuer
	realtimeURL string
	logger      *slog.Logger
	now         func() time.Time
}

func New(store Store, queue Enqueuer, issuer TokenIssuer, realtimeURL string, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		queue:       queue,
		issuer:      issuer,
		realtimeURL: realtimeURL,
		logger:      logger,
		now:         time.Now,
	}
}

// DispatchResult is the created group and its jobs in dispatch order
type DispatchResult struct {
	JobGroupID string    `json:"jobGroupId"`
	Jobs       []job.Job `json:"jobs"`
}

// Dispatch persists a group with one PENDING job per operation and enqueues
// them. Rows stay committed if enqueueing fails.
func (s *Service) Dispatch(ctx context.Context, email string, a, b float64) (*DispatchResult, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}
	if !finite(a) || !finite(b) {
		return nil, fmt.Errorf("%w: operands must be finite numbers", ErrInvalidInput)
	}

	user, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	group := &job.Group{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		A:         a,
		B:         b,
		CreatedAt: now,
	}

	ops := job.Operations()
	jobs := make([]job.Job, len(ops))
	for i, op := range ops {
		jobs[i] = job.Job{
			ID:         uuid.NewString(),
			JobGroupID: group.ID,
			Type:       op,
			Status:     job.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := s.store.CreateGroupWithJobs(ctx, group, jobs); err != nil {
		return nil, fmt.Errorf("failed to create job group: %w", err)
	}

	if err := s.enqueue(ctx, group, jobs); err != nil {
		s.logger.Error("Job group persisted but enqueue failed",
			slog.String("job_group_id", group.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	s.logger.Info("Job group dispatched",
		slog.String("job_group_id", group.ID),
		slog.String("user_id", user.ID),
		slog.Int("jobs", len(jobs)),
	)

	return &DispatchResult{JobGroupID: group.ID, Jobs: jobs}, nil
}

func (s *Service) enqueue(ctx context.Context, group *job.Group, jobs []job.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		body, err := json.Marshal(job.Payload{
			JobGroupID: group.ID,
			JobID:      j.ID,
			A:          group.A,
			B:          group.B,
			Operation:  j.Type,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal job payload: %w", err)
		}

		g.Go(func() error {
			if err := s.queue.PublishWithRetry(gctx, body, "application/json", nil); err != nil {
				return fmt.Errorf("failed to enqueue job %s: %w", j.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// TokenResult is a capability token and where to use it
type TokenResult struct {
	Token       string `json:"token"`
	RealtimeURL string `json:"realtimeUrl"`
}

// IssueToken mints a capability token for a group owned by the caller
func (s *Service) IssueToken(ctx context.Context, email, groupID string) (*TokenResult, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}

	id, err := uuid.Parse(groupID)
	if err != nil {
		return nil, ErrForbidden
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller: %w", err)
	}

	group, err := s.store.GetGroup(ctx, id.String())
	if errors.Is(err, domain.ErrJobGroupNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}

	if group.UserID != user.ID {
		return nil, ErrForbidden
	}

	token, err := s.issuer.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue capability token: %w", err)
	}

	return &TokenResult{Token: token, RealtimeURL: s.realtimeURL}, nil
}

// GroupSummary is a group with its jobs as shown in history
type GroupSummary struct {
	job.Group
	Jobs      []job.Job `json:"jobs"`
	Completed int       `json:"completed"`
}

// HistoryPage is one page of a caller's groups, newest first
type HistoryPage struct {
	Groups []GroupSummary
	Next   *storage.GroupCursor
}

// History lists the caller's groups newest first. limit is clamped to
// [1, MaxHistoryLimit] with DefaultHistoryLimit for zero or negative values.
func (s *Service) History(ctx context.Context, email string, limit int, cursor *storage.GroupCursor) (*HistoryPage, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}

	user, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}

	limit = clampLimit(limit)

	groups, err := s.store.ListGroups(ctx, storage.GroupFilter{
		UserID:   user.ID,
		PageSize: limit,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{}
	if len(groups) > limit {
		groups = groups[:limit]
		last := groups[len(groups)-1]
		page.Next = &storage.GroupCursor{CreatedAt: last.CreatedAt, GroupID: last.ID}
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}

	jobsByGroup, err := s.store.ListJobsByGroups(ctx, ids)
	if err != nil {
		return nil, err
	}

	page.Groups = make([]GroupSummary, len(groups))
	for i, g := range groups {
		page.Groups[i] = summarize(g, jobsByGroup[g.ID])
	}

	return page, nil
}

// Group returns one group owned by the caller. Groups of other users are
// reported as ErrNotFound.
func (s *Service) Group(ctx context.Context, email, groupID string) (*GroupSummary, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}

	id, err := uuid.Parse(groupID)
	if err != nil {
		return nil, ErrNotFound
	}

	user, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, id.String())
	if errors.Is(err, domain.ErrJobGroupNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if group.UserID != user.ID {
		return nil, ErrNotFound
	}

	jobs, err := s.store.ListJobsByGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	summary := summarize(*group, jobs)
	return &summary, nil
}

func (s *Service) resolveUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller: %w", err)
	}
	return user, nil
}

func summarize(g job.Group, jobs []job.Job) GroupSummary {
	if jobs == nil {
		jobs = []job.Job{}
	}
	completed := 0
	for _, j := range jobs {
		if j.Status.Terminal() {
			completed++
		}
	}
	return GroupSummary{Group: g, Jobs: jobs, Completed: completed}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
