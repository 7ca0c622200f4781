package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/insight"
	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/cuongbtq/calc-jobs/shared/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusCall struct {
	jobID  string
	status job.Status
	ctxErr error
}

type completeCall struct {
	jobID   string
	result  float64
	insight string
}

type fakeStore struct {
	mu          sync.Mutex
	statuses    []statusCall
	completes   []completeCall
	statusErr   map[job.Status]error
	completeErr error
}

func (f *fakeStore) UpdateStatus(ctx context.Context, jobID string, status job.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusCall{jobID: jobID, status: status, ctxErr: ctx.Err()})
	return f.statusErr[status]
}

func (f *fakeStore) Complete(_ context.Context, jobID string, result float64, insight string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, completeCall{jobID: jobID, result: result, insight: insight})
	return f.completeErr
}

func (f *fakeStore) statusList() []job.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]job.Status, len(f.statuses))
	for i, c := range f.statuses {
		out[i] = c.status
	}
	return out
}

type published struct {
	groupID string
	update  job.Update
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []published
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, groupID string, u job.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, published{groupID: groupID, update: u})
	return f.err
}

func (f *fakePublisher) statusList() []job.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]job.Status, len(f.updates))
	for i, p := range f.updates {
		out[i] = p.update.Status
	}
	return out
}

type fixedInsight string

func (f fixedInsight) Insight(context.Context, float64) string { return string(f) }

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, float64) (string, error) {
	return "", errors.New("upstream unavailable")
}

func newPayload(op job.Operation, a, b float64) job.Payload {
	return job.Payload{
		JobGroupID: uuid.NewString(),
		JobID:      uuid.NewString(),
		A:          a,
		B:          b,
		Operation:  op,
	}
}

func TestProcessor_Process(t *testing.T) {
	tests := []struct {
		name     string
		op       job.Operation
		a, b     float64
		expected float64
	}{
		{name: "add", op: job.OperationAdd, a: 10, b: 5, expected: 15},
		{name: "subtract", op: job.OperationSubtract, a: 10, b: 5, expected: 5},
		{name: "multiply", op: job.OperationMultiply, a: 10, b: 5, expected: 50},
		{name: "divide", op: job.OperationDivide, a: 10, b: 5, expected: 2},
		{name: "divide by zero", op: job.OperationDivide, a: 10, b: 0, expected: 0},
		{name: "unknown kind", op: "MODULO", a: 10, b: 3, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			pub := &fakePublisher{}
			p := NewProcessor(store, pub, fixedInsight("An insight."), 0, logger.NewNop().Logger)
			payload := newPayload(tt.op, tt.a, tt.b)

			require.NoError(t, p.Process(context.Background(), payload))

			assert.Equal(t, []job.Status{job.StatusProcessing}, store.statusList())
			require.Len(t, store.completes, 1)
			assert.Equal(t, completeCall{jobID: payload.JobID, result: tt.expected, insight: "An insight."}, store.completes[0])

			assert.Equal(t, []job.Status{job.StatusProcessing, job.StatusCompleted}, pub.statusList())
			final := pub.updates[1]
			assert.Equal(t, payload.JobGroupID, final.groupID)
			assert.Equal(t, payload.JobID, final.update.JobID)
			assert.Equal(t, tt.op, final.update.Type)
			require.NotNil(t, final.update.Result)
			assert.Equal(t, tt.expected, *final.update.Result)
			require.NotNil(t, final.update.ResultInsight)
			assert.Equal(t, "An insight.", *final.update.ResultInsight)

			first := pub.updates[0].update
			assert.Nil(t, first.Result)
			assert.Nil(t, first.ResultInsight)
		})
	}
}

func TestProcessor_InsightFailureStillCompletes(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	nop := logger.NewNop().Logger
	p := NewProcessor(store, pub, insight.NewEnricher(failingGenerator{}, nop), 0, nop)

	require.NoError(t, p.Process(context.Background(), newPayload(job.OperationAdd, 1, 2)))

	require.Len(t, store.completes, 1)
	assert.Equal(t, insight.FallbackFailed, store.completes[0].insight)
	assert.Equal(t, []job.Status{job.StatusProcessing, job.StatusCompleted}, pub.statusList())
}

func TestProcessor_ProcessingUpdateFails(t *testing.T) {
	dbErr := errors.New("connection refused")
	store := &fakeStore{statusErr: map[job.Status]error{job.StatusProcessing: dbErr}}
	pub := &fakePublisher{}
	p := NewProcessor(store, pub, fixedInsight("x"), 0, logger.NewNop().Logger)

	err := p.Process(context.Background(), newPayload(job.OperationAdd, 1, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)

	assert.Equal(t, []job.Status{job.StatusProcessing, job.StatusFailed}, store.statusList())
	assert.Empty(t, store.completes)
	assert.Equal(t, []job.Status{job.StatusFailed}, pub.statusList())
}

func TestProcessor_CompleteFails(t *testing.T) {
	dbErr := errors.New("deadlock detected")
	store := &fakeStore{completeErr: dbErr}
	pub := &fakePublisher{}
	p := NewProcessor(store, pub, fixedInsight("x"), 0, logger.NewNop().Logger)

	err := p.Process(context.Background(), newPayload(job.OperationMultiply, 3, 4))
	assert.ErrorIs(t, err, dbErr)

	assert.Equal(t, []job.Status{job.StatusProcessing, job.StatusFailed}, store.statusList())
	assert.Equal(t, []job.Status{job.StatusProcessing, job.StatusFailed}, pub.statusList())
}

func TestProcessor_FailedUpdateAlsoFails(t *testing.T) {
	dbErr := errors.New("connection refused")
	store := &fakeStore{statusErr: map[job.Status]error{
		job.StatusProcessing: dbErr,
		job.StatusFailed:     errors.New("still down"),
	}}
	pub := &fakePublisher{}
	p := NewProcessor(store, pub, fixedInsight("x"), 0, logger.NewNop().Logger)

	err := p.Process(context.Background(), newPayload(job.OperationAdd, 1, 2))
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, []job.Status{job.StatusFailed}, pub.statusList())
}

func TestProcessor_CanceledDuringDelay(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	p := NewProcessor(store, pub, fixedInsight("x"), time.Hour, logger.NewNop().Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Process(ctx, newPayload(job.OperationAdd, 1, 2))
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, store.statuses, 2)
	assert.Equal(t, job.StatusFailed, store.statuses[1].status)
	assert.NoError(t, store.statuses[1].ctxErr)
	assert.Empty(t, store.completes)
}

func TestProcessor_DelayBeforeCompute(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	p := NewProcessor(store, pub, fixedInsight("x"), 50*time.Millisecond, logger.NewNop().Logger)

	start := time.Now()
	require.NoError(t, p.Process(context.Background(), newPayload(job.OperationAdd, 1, 2)))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestProcessor_PublishErrorsAreNotFatal(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: errors.New("redis down")}
	p := NewProcessor(store, pub, fixedInsight("x"), 0, logger.NewNop().Logger)

	require.NoError(t, p.Process(context.Background(), newPayload(job.OperationSubtract, 1, 2)))
	assert.Len(t, store.completes, 1)
}

func TestProcessor_RedeliveryOverwrites(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	p := NewProcessor(store, pub, fixedInsight("x"), 0, logger.NewNop().Logger)
	payload := newPayload(job.OperationAdd, 10, 5)

	require.NoError(t, p.Process(context.Background(), payload))
	require.NoError(t, p.Process(context.Background(), payload))

	require.Len(t, store.completes, 2)
	assert.Equal(t, store.completes[0], store.completes[1])
	assert.Equal(t, []job.Status{
		job.StatusProcessing, job.StatusCompleted,
		job.StatusProcessing, job.StatusCompleted,
	}, pub.statusList())
}
