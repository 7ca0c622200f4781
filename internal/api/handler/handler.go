package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/calc-jobs/internal/api/service"
	"github.com/cuongbtq/calc-jobs/internal/api/storage"
	"github.com/cuongbtq/calc-jobs/internal/auth"
)

// Service is the set of use cases exposed over HTTP
type Service interface {
	Dispatch(ctx context.Context, email string, a, b float64) (*service.DispatchResult, error)
	IssueToken(ctx context.Context, email, groupID string) (*service.TokenResult, error)
	History(ctx context.Context, email string, limit int, cursor *storage.GroupCursor) (*service.HistoryPage, error)
	Group(ctx context.Context, email, groupID string) (*service.GroupSummary, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Service        Service
	Sessions       *auth.Sessions
	Health         func(ctx context.Context) error
	AllowedOrigins []string
}

// JobGroupHandler handles compute, history and capability requests
type JobGroupHandler struct {
	logger  *slog.Logger
	service Service
}

// NewJobGroupHandler creates a new JobGroupHandler instance
func NewJobGroupHandler(deps *Dependencies) *JobGroupHandler {
	return &JobGroupHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
