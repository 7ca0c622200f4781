package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/domain"
	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroup(userID string, createdAt time.Time) (*job.Group, []job.Job) {
	g := &job.Group{ID: uuid.NewString(), UserID: userID, A: 10, B: 5, CreatedAt: createdAt}
	jobs := make([]job.Job, 0, 4)
	for _, op := range job.Operations() {
		jobs = append(jobs, job.Job{
			ID:         uuid.NewString(),
			JobGroupID: g.ID,
			Type:       op,
			Status:     job.StatusPending,
			CreatedAt:  createdAt,
			UpdatedAt:  createdAt,
		})
	}
	return g, jobs
}

func TestStorage_CreateGroupWithJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.NewPostgres(t)
	s := NewStorage(db)
	ctx := context.Background()

	userID := testutil.SeedUser(t, db, "alice@example.com")
	user, err := s.FindUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)

	g, jobs := newGroup(userID, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.CreateGroupWithJobs(ctx, g, jobs))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.UserID, got.UserID)
	assert.Equal(t, 10.0, got.A)

	stored, err := s.ListJobsByGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for i, op := range job.Operations() {
		assert.Equal(t, op, stored[i].Type)
		assert.Equal(t, job.StatusPending, stored[i].Status)
	}
}

func TestStorage_CreateGroupWithJobsIsAtomic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.NewPostgres(t)
	s := NewStorage(db)
	ctx := context.Background()

	userID := testutil.SeedUser(t, db, "alice@example.com")
	g, jobs := newGroup(userID, time.Now().UTC())
	// duplicate operation violates UNIQUE(job_group_id, type)
	jobs[3].Type = job.OperationAdd

	require.Error(t, s.CreateGroupWithJobs(ctx, g, jobs))

	_, err := s.GetGroup(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrJobGroupNotFound)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM jobs WHERE job_group_id = $1`, g.ID))
	assert.Zero(t, count)
}

func TestStorage_ListGroupsPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.NewPostgres(t)
	s := NewStorage(db)
	ctx := context.Background()

	userID := testutil.SeedUser(t, db, "alice@example.com")
	otherID := testutil.SeedUser(t, db, "bob@example.com")

	base := time.Now().UTC().Truncate(time.Microsecond)
	var ids []string
	for i := 0; i < 3; i++ {
		g, jobs := newGroup(userID, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.CreateGroupWithJobs(ctx, g, jobs))
		ids = append(ids, g.ID)
	}
	og, ojobs := newGroup(otherID, base)
	require.NoError(t, s.CreateGroupWithJobs(ctx, og, ojobs))

	first, err := s.ListGroups(ctx, GroupFilter{UserID: userID, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, ids[2], first[0].ID)
	assert.Equal(t, ids[1], first[1].ID)

	cursor := &GroupCursor{CreatedAt: first[1].CreatedAt, GroupID: first[1].ID}
	second, err := s.ListGroups(ctx, GroupFilter{UserID: userID, PageSize: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, ids[0], second[0].ID)

	byGroup, err := s.ListJobsByGroups(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, byGroup, 3)
	for _, id := range ids {
		assert.Len(t, byGroup[id], 4)
		assert.Equal(t, job.OperationAdd, byGroup[id][0].Type)
	}
}

func TestStorage_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.NewPostgres(t)
	s := NewStorage(db)
	ctx := context.Background()

	_, err := s.FindUserByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = s.GetGroup(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobGroupNotFound)

	empty, err := s.ListJobsByGroups(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
