package dto

import "github.com/cuongbtq/calc-jobs/internal/job"

// ComputeRequest uses pointers so a missing operand is distinguishable from 0
type ComputeRequest struct {
	A *float64 `json:"a" binding:"required"`
	B *float64 `json:"b" binding:"required"`
}

type ComputeResponse struct {
	JobGroupID string    `json:"jobGroupId"`
	Jobs       []job.Job `json:"jobs"`
}

type ListJobGroupsRequest struct {
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

type ListJobGroupsResponse struct {
	JobGroups  []JobGroupDTO `json:"jobGroups"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type JobGroupDTO struct {
	ID        string    `json:"id"`
	A         float64   `json:"a"`
	B         float64   `json:"b"`
	CreatedAt string    `json:"createdAt"`
	Jobs      []job.Job `json:"jobs"`
	Completed int       `json:"completed"`
}

type TokenResponse struct {
	Token       string `json:"token"`
	RealtimeURL string `json:"realtimeUrl"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
