package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/core/job"
	"harvester/internal/platform/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queued struct {
	payload tasks.Payload
	opts    tasks.EnqueueOptions
}

// fakeQueue enforces term spacing the way tasks.Client does, without Redis.
type fakeQueue struct {
	seen  map[string]bool
	items []queued
	err   error
}

func newFakeQueue() *fakeQueue { return &fakeQueue{seen: map[string]bool{}} }

func (q *fakeQueue) Enqueue(_ context.Context, p tasks.Payload, opts tasks.EnqueueOptions) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	key := tasks.SpacingKey(p.SearchTerm)
	if q.seen[key] {
		return nil, failure.New(failure.RateLimitedResubmission, "enqueue", fmt.Errorf("%w: %q", tasks.ErrTermTooSoon, p.SearchTerm))
	}
	q.seen[key] = true
	q.items = append(q.items, queued{payload: p, opts: opts})
	return &asynq.TaskInfo{ID: p.JobID}, nil
}

var testDefaults = tasks.EnqueueOptions{Priority: tasks.PriorityNormal, Attempts: 3, Backoff: 5 * time.Second, Timeout: time.Minute}

func TestEnqueue_CreatesPendingJob(t *testing.T) {
	q := newFakeQueue()
	jobs := job.NewMemoryRepository()
	e := NewEnqueuer(q, jobs, testDefaults)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, "  Hyde   Park ", tasks.EnqueueOptions{Priority: tasks.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, q.items, 1)
	assert.Equal(t, id, q.items[0].payload.JobID)
	assert.Equal(t, "Hyde Park", q.items[0].payload.SearchTerm)
	assert.Equal(t, tasks.PriorityHigh, q.items[0].opts.Priority)
	assert.Equal(t, 3, q.items[0].opts.Attempts)

	j, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, "Hyde Park", j.SearchTerm)
}

func TestEnqueue_Rejections(t *testing.T) {
	q := newFakeQueue()
	jobs := job.NewMemoryRepository()
	e := NewEnqueuer(q, jobs, testDefaults)
	ctx := context.Background()

	_, err := e.Enqueue(ctx, "   ", tasks.EnqueueOptions{})
	assert.ErrorIs(t, err, ErrEmptyTerm)

	_, err = e.Enqueue(ctx, "Oak", tasks.EnqueueOptions{})
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, "oak", tasks.EnqueueOptions{})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.RateLimitedResubmission))
	assert.ErrorIs(t, err, tasks.ErrTermTooSoon)

	list, _ := jobs.List(ctx, job.ListFilter{})
	assert.Len(t, list, 1, "rejected submissions leave no job behind")

	q.err = errors.New("redis down")
	_, err = e.Enqueue(ctx, "Elm", tasks.EnqueueOptions{})
	assert.Error(t, err)
	list, _ = jobs.List(ctx, job.ListFilter{})
	assert.Len(t, list, 1)
}

func TestRetryFailed_RequeuesUniqueFailedTerms(t *testing.T) {
	jobs := job.NewMemoryRepository()
	ctx := context.Background()
	fail := func(id, term string) {
		_, err := jobs.MarkProcessing(ctx, id, term, 1)
		require.NoError(t, err)
		require.NoError(t, jobs.Fail(ctx, id, 3, "upstream returned 502"))
	}
	fail("a1", "Jones")
	fail("a2", "Jones")
	fail("b1", "Elm")
	fail("c1", "Pine")
	_, err := jobs.MarkProcessing(ctx, "c2", "Pine", 1)
	require.NoError(t, err)
	require.NoError(t, jobs.Complete(ctx, "c2", 1, 0, 1))

	q := newFakeQueue()
	q.seen[tasks.SpacingKey("Elm")] = true
	e := NewEnqueuer(q, jobs, testDefaults)

	res, err := e.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"Jones"}, res.Terms)
	require.Len(t, q.items, 1)
	assert.Equal(t, tasks.PriorityLow, q.items[0].opts.Priority)
	assert.Zero(t, q.items[0].opts.Delay)

	j, err := jobs.Get(ctx, res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)
}

func TestRetryFailed_StaggersSubmissions(t *testing.T) {
	jobs := job.NewMemoryRepository()
	ctx := context.Background()
	for i, term := range []string{"Ash", "Birch", "Cedar"} {
		id := fmt.Sprintf("j%d", i)
		_, err := jobs.MarkProcessing(ctx, id, term, 1)
		require.NoError(t, err)
		require.NoError(t, jobs.Fail(ctx, id, 1, "boom"))
	}
	q := newFakeQueue()
	res, err := NewEnqueuer(q, jobs, testDefaults).RetryFailed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Queued)

	var delays []time.Duration
	for _, it := range q.items {
		delays = append(delays, it.opts.Delay)
	}
	assert.Equal(t, []time.Duration{0, 6 * time.Second, 12 * time.Second}, delays)
}
