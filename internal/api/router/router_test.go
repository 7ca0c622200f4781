package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/dto"
	"github.com/cuongbtq/calc-jobs/internal/api/handler"
	"github.com/cuongbtq/calc-jobs/internal/api/service"
	"github.com/cuongbtq/calc-jobs/internal/api/storage"
	"github.com/cuongbtq/calc-jobs/internal/auth"
	"github.com/cuongbtq/calc-jobs/internal/capability"
	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "router-test-secret"
	testEmail  = "alice@example.com"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	dispatchErr error
	tokenErr    error
	groupErr    error
	historyErr  error

	gotA, gotB  float64
	gotEmail    string
	gotLimit    int
	gotCursor   *storage.GroupCursor
	historyNext *storage.GroupCursor
	groups      []service.GroupSummary
}

func (f *fakeService) Dispatch(_ context.Context, email string, a, b float64) (*service.DispatchResult, error) {
	f.gotEmail, f.gotA, f.gotB = email, a, b
	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	groupID := uuid.NewString()
	jobs := make([]job.Job, 0, 4)
	for _, op := range job.Operations() {
		jobs = append(jobs, job.Job{ID: uuid.NewString(), JobGroupID: groupID, Type: op, Status: job.StatusPending})
	}
	return &service.DispatchResult{JobGroupID: groupID, Jobs: jobs}, nil
}

func (f *fakeService) IssueToken(_ context.Context, email, _ string) (*service.TokenResult, error) {
	f.gotEmail = email
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &service.TokenResult{Token: "tok", RealtimeURL: "ws://localhost:8081/ws"}, nil
}

func (f *fakeService) History(_ context.Context, email string, limit int, cursor *storage.GroupCursor) (*service.HistoryPage, error) {
	f.gotEmail, f.gotLimit, f.gotCursor = email, limit, cursor
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return &service.HistoryPage{Groups: f.groups, Next: f.historyNext}, nil
}

func (f *fakeService) Group(_ context.Context, email, groupID string) (*service.GroupSummary, error) {
	f.gotEmail = email
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return &service.GroupSummary{Group: job.Group{ID: groupID, A: 1, B: 2, CreatedAt: time.Now()}}, nil
}

func newTestRouter(svc handler.Service, health func(context.Context) error) *gin.Engine {
	return SetupRouter(&handler.Dependencies{
		Logger:   logger.NewNop().Logger,
		Service:  svc,
		Sessions: auth.NewSessions(testSecret),
		Health:   health,
	})
}

func sessionToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewSessions(testSecret).IssueSession(testEmail, time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, r http.Handler, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+sessionToken(t))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestRouter_RequiresSession(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/compute"},
		{http.MethodGet, "/api/v1/job-groups"},
		{http.MethodGet, "/api/v1/job-groups/" + uuid.NewString()},
		{http.MethodPost, "/api/v1/job-groups/" + uuid.NewString() + "/token"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := doRequest(t, r, p.method, p.path, `{"a":1,"b":2}`, false)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Unauthorized", decodeError(t, w))
		})
	}
}

func TestRouter_Compute(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	w := doRequest(t, r, http.MethodPost, "/api/v1/compute", `{"a":10,"b":0}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ComputeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobGroupID)
	require.Len(t, resp.Jobs, 4)
	for _, j := range resp.Jobs {
		assert.Equal(t, job.StatusPending, j.Status)
	}
	assert.Equal(t, testEmail, svc.gotEmail)
	assert.Equal(t, 10.0, svc.gotA)
	assert.Equal(t, 0.0, svc.gotB)
}

func TestRouter_ComputeInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing b", body: `{"a":1}`},
		{name: "missing a", body: `{"b":1}`},
		{name: "string operand", body: `{"a":"1","b":2}`},
		{name: "malformed json", body: `{"a":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{}, nil)
			w := doRequest(t, r, http.MethodPost, "/api/v1/compute", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid request", decodeError(t, w))
		})
	}
}

func TestRouter_ComputeServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "unknown user", err: service.ErrUnknownUser, wantCode: http.StatusBadRequest},
		{name: "enqueue failure", err: errors.New("broker down"), wantCode: http.StatusBadRequest},
		{name: "unauthenticated", err: service.ErrUnauthenticated, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{dispatchErr: tt.err}, nil)
			w := doRequest(t, r, http.MethodPost, "/api/v1/compute", `{"a":1,"b":2}`, true)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRouter_IssueToken(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "owner", wantCode: http.StatusOK},
		{name: "not owner", err: service.ErrForbidden, wantCode: http.StatusForbidden, wantErr: "Forbidden"},
		{name: "missing secret", err: capability.ErrSigningKeyMissing, wantCode: http.StatusInternalServerError, wantErr: "Server misconfigured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{tokenErr: tt.err}, nil)
			w := doRequest(t, r, http.MethodPost, "/api/v1/job-groups/"+uuid.NewString()+"/token", "", true)
			require.Equal(t, tt.wantCode, w.Code)

			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, w))
				return
			}
			var resp dto.TokenResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "tok", resp.Token)
			assert.Equal(t, "ws://localhost:8081/ws", resp.RealtimeURL)
		})
	}
}

func TestRouter_GetJobGroup(t *testing.T) {
	groupID := uuid.NewString()

	r := newTestRouter(&fakeService{}, nil)
	w := doRequest(t, r, http.MethodGet, "/api/v1/job-groups/"+groupID, "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.JobGroupDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, groupID, resp.ID)

	r = newTestRouter(&fakeService{groupErr: service.ErrNotFound}, nil)
	w = doRequest(t, r, http.MethodGet, "/api/v1/job-groups/"+groupID, "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	r = newTestRouter(&fakeService{groupErr: errors.New("db down")}, nil)
	w = doRequest(t, r, http.MethodGet, "/api/v1/job-groups/"+groupID, "", true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_ListJobGroups(t *testing.T) {
	next := &storage.GroupCursor{CreatedAt: time.Unix(1700000000, 0).UTC(), GroupID: uuid.NewString()}
	svc := &fakeService{
		groups: []service.GroupSummary{
			{Group: job.Group{ID: uuid.NewString(), A: 3, B: 4, CreatedAt: time.Now()}, Completed: 2},
		},
		historyNext: next,
	}
	r := newTestRouter(svc, nil)

	w := doRequest(t, r, http.MethodGet, "/api/v1/job-groups?limit=1", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobGroupsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.JobGroups, 1)
	assert.Equal(t, 2, resp.JobGroups[0].Completed)
	assert.Equal(t, 1, svc.gotLimit)
	assert.Nil(t, svc.gotCursor)
	require.NotEmpty(t, resp.NextCursor)

	// the returned cursor round-trips into the next request
	w = doRequest(t, r, http.MethodGet, "/api/v1/job-groups?cursor="+resp.NextCursor, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotCursor)
	assert.Equal(t, next.GroupID, svc.gotCursor.GroupID)
	assert.True(t, next.CreatedAt.Equal(svc.gotCursor.CreatedAt))
}

func TestRouter_ListJobGroupsBadQuery(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	w := doRequest(t, r, http.MethodGet, "/api/v1/job-groups?cursor=%21%21", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid cursor", decodeError(t, w))

	w = doRequest(t, r, http.MethodGet, "/api/v1/job-groups?limit=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(&fakeService{}, func(context.Context) error { return nil })
	w := doRequest(t, r, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	r = newTestRouter(&fakeService{}, func(context.Context) error { return errors.New("db down") })
	w = doRequest(t, r, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}
