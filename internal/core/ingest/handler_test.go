package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/core/job"
	"harvester/internal/core/records"
	"harvester/internal/platform/tasks"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu   sync.Mutex
	vals map[string][]byte
	sets int
}

func (m *memCache) CacheGet(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.vals[key]
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(b, dest)
}

func (m *memCache) CacheSet(_ context.Context, key string, val interface{}, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = b
	m.sets++
	return nil
}

type apiFixture struct {
	app   *fiber.App
	jobs  *job.MemoryRepository
	queue *fakeQueue
	cache *memCache
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		jobs:  job.NewMemoryRepository(),
		queue: newFakeQueue(),
		cache: &memCache{vals: map[string][]byte{}},
	}
	store := records.NewMemoryStore(records.Record{ExternalID: "1"}, records.Record{ExternalID: "2"})
	h := NewHandler(NewEnqueuer(f.queue, f.jobs, testDefaults), f.jobs, store, f.cache)
	f.app = fiber.New()
	f.app.Post("/v1/jobs", h.HandleCreateJob)
	f.app.Get("/v1/jobs", h.HandleListJobs)
	f.app.Post("/v1/jobs/retry-failed", h.HandleRetryFailed)
	f.app.Get("/v1/jobs/:jobId", h.HandleGetJob)
	f.app.Get("/v1/stats", h.HandleStats)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHandleCreateJob(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, "POST", "/v1/jobs", `{"searchTerm":"Hyde Park","priority":"high","attempts":5,"backoffSeconds":2}`)
	require.Equal(t, fiber.StatusAccepted, code)
	id, _ := body["jobId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", body["status"])
	require.Len(t, f.queue.items, 1)
	assert.Equal(t, tasks.EnqueueOptions{Priority: tasks.PriorityHigh, Attempts: 5, Backoff: 2 * time.Second, Timeout: time.Minute}, f.queue.items[0].opts)

	code, body = f.do(t, "POST", "/v1/jobs", `{"searchTerm":"hyde park"}`)
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	assert.Equal(t, string(failure.RateLimitedResubmission), body["kind"])

	code, _ = f.do(t, "POST", "/v1/jobs", `{"searchTerm":"  "}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = f.do(t, "POST", "/v1/jobs", `{"searchTerm":"Oak","priority":"urgent"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = f.do(t, "POST", "/v1/jobs", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body = f.do(t, "GET", "/v1/jobs/"+id, "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "Hyde Park", body["searchTerm"])

	code, _ = f.do(t, "GET", "/v1/jobs/does-not-exist", "")
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestHandleListJobs(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.jobs.CreatePending(ctx, "a", "Oak"))
	_, err := f.jobs.MarkProcessing(ctx, "b", "Elm", 1)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Fail(ctx, "b", 1, "boom"))

	code, body := f.do(t, "GET", "/v1/jobs?status=failed", "")
	require.Equal(t, fiber.StatusOK, code)
	jobs, _ := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Elm", jobs[0].(map[string]any)["searchTerm"])

	code, _ = f.do(t, "GET", "/v1/jobs?status=queued", "")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = f.do(t, "GET", "/v1/jobs?limit=all", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestHandleRetryFailed(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, err := f.jobs.MarkProcessing(ctx, "x", "Pine", 1)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Fail(ctx, "x", 3, "upstream returned 502"))

	code, body := f.do(t, "POST", "/v1/jobs/retry-failed", `{"limit":5}`)
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 1, body["queued"])
	assert.Equal(t, []any{"Pine"}, body["terms"])

	code, body = f.do(t, "POST", "/v1/jobs/retry-failed", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 0, body["queued"], "the pending retry means Pine no longer counts as failed")
	assert.Equal(t, []any{}, body["terms"])
}

func TestHandleStats_Cached(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, err := f.jobs.MarkProcessing(ctx, "c", "Cedar", 1)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Complete(ctx, "c", 2, 0, 1))

	code, body := f.do(t, "GET", "/v1/stats", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 2, body["records"])
	jobs := body["jobs"].(map[string]any)
	assert.EqualValues(t, 1, jobs["total"])
	assert.EqualValues(t, 2, jobs["netNew"])
	assert.Equal(t, 1, f.cache.sets)

	require.NoError(t, f.jobs.CreatePending(ctx, "d", "Birch"))
	_, body = f.do(t, "GET", "/v1/stats", "")
	assert.EqualValues(t, 1, body["jobs"].(map[string]any)["total"], "served from cache")

	_, body = f.do(t, "GET", "/v1/stats?fresh=true", "")
	assert.EqualValues(t, 2, body["jobs"].(map[string]any)["total"])
}
