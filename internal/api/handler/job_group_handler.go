package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/dto"
	"github.com/cuongbtq/calc-jobs/internal/api/service"
	"github.com/cuongbtq/calc-jobs/internal/auth"
	"github.com/cuongbtq/calc-jobs/internal/capability"
	"github.com/gin-gonic/gin"
)

// Compute handles POST /api/v1/compute
// Creates a job group with one job per operation and enqueues them
func (h *JobGroupHandler) Compute(c *gin.Context) {
	email := auth.CallerEmail(c)
	if email == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req dto.ComputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid compute request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request"})
		return
	}

	res, err := h.service.Dispatch(c.Request.Context(), email, *req.A, *req.B)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized"})
			return
		}
		// every other failure collapses to the generic body
		h.logger.Error("Failed to dispatch job group",
			slog.String("email", email),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request"})
		return
	}

	c.JSON(http.StatusOK, dto.ComputeResponse{
		JobGroupID: res.JobGroupID,
		Jobs:       res.Jobs,
	})
}

// ListJobGroups handles GET /api/v1/job-groups
// Lists the caller's most recent job groups with cursor pagination
func (h *JobGroupHandler) ListJobGroups(c *gin.Context) {
	var req dto.ListJobGroupsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Debug("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	cursor, err := DecodeGroupCursor(req.Cursor)
	if err != nil {
		h.logger.Debug("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	page, err := h.service.History(c.Request.Context(), auth.CallerEmail(c), req.Limit, cursor)
	if err != nil {
		h.writeError(c, err, "Failed to list job groups")
		return
	}

	groups := make([]dto.JobGroupDTO, len(page.Groups))
	for i, g := range page.Groups {
		groups[i] = toJobGroupDTO(g)
	}

	resp := dto.ListJobGroupsResponse{JobGroups: groups}
	if page.Next != nil {
		resp.NextCursor = EncodeGroupCursor(page.Next)
	}

	c.JSON(http.StatusOK, resp)
}

// GetJobGroup handles GET /api/v1/job-groups/:id
func (h *JobGroupHandler) GetJobGroup(c *gin.Context) {
	group, err := h.service.Group(c.Request.Context(), auth.CallerEmail(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to get job group")
		return
	}

	c.JSON(http.StatusOK, toJobGroupDTO(*group))
}

// IssueToken handles POST /api/v1/job-groups/:id/token
// Mints a short-lived realtime capability token for a group the caller owns
func (h *JobGroupHandler) IssueToken(c *gin.Context) {
	groupID := c.Param("id")

	res, err := h.service.IssueToken(c.Request.Context(), auth.CallerEmail(c), groupID)
	if err != nil {
		if errors.Is(err, capability.ErrSigningKeyMissing) {
			h.logger.Error("Capability signing secret is not configured")
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Server misconfigured"})
			return
		}
		h.writeError(c, err, "Failed to issue token")
		return
	}

	h.logger.Debug("Capability token issued", slog.String("job_group_id", groupID))
	c.JSON(http.StatusOK, dto.TokenResponse{
		Token:       res.Token,
		RealtimeURL: res.RealtimeURL,
	})
}

// writeError maps service errors to status codes; anything unrecognised is a 500
func (h *JobGroupHandler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "Forbidden"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job group not found"})
	case errors.Is(err, service.ErrUnknownUser):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request"})
	default:
		h.logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msg})
	}
}

func toJobGroupDTO(g service.GroupSummary) dto.JobGroupDTO {
	return dto.JobGroupDTO{
		ID:        g.ID,
		A:         g.A,
		B:         g.B,
		CreatedAt: g.CreatedAt.Format(time.RFC3339),
		Jobs:      g.Jobs,
		Completed: g.Completed,
	}
}
