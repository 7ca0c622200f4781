// Package testutil starts throwaway Postgres containers for integration tests.
package testutil

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// NewPostgres spins up a Postgres container with the schema applied
func NewPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("calc_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, postgresql.RunMigrations(connStr, migrationsDir()))

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// SeedUser inserts a user and returns its id
func SeedUser(t *testing.T, db *sqlx.DB, email string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`, id, email, "Test User")
	require.NoError(t, err)
	return id
}

// GroupFixture is a seeded group with its four pending jobs
type GroupFixture struct {
	UserID  string
	GroupID string
	JobIDs  map[job.Operation]string
}

// SeedGroup inserts a user, a group and four pending jobs
func SeedGroup(t *testing.T, db *sqlx.DB, a, b float64) GroupFixture {
	t.Helper()

	fx := GroupFixture{
		UserID:  SeedUser(t, db, uuid.NewString()+"@example.com"),
		GroupID: uuid.NewString(),
		JobIDs:  make(map[job.Operation]string),
	}

	_, err := db.Exec(`INSERT INTO job_groups (id, user_id, a, b) VALUES ($1, $2, $3, $4)`, fx.GroupID, fx.UserID, a, b)
	require.NoError(t, err)

	for _, op := range job.Operations() {
		id := uuid.NewString()
		_, err := db.Exec(`INSERT INTO jobs (id, job_group_id, type) VALUES ($1, $2, $3)`, id, fx.GroupID, op)
		require.NoError(t, err)
		fx.JobIDs[op] = id
	}

	return fx
}
