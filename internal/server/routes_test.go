package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"harvester/internal/core/credential"
	"harvester/internal/core/ingest"
	"harvester/internal/core/job"
	"harvester/internal/core/records"
	"harvester/internal/health"
	"harvester/internal/platform/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acceptAll struct{ n int }

func (a *acceptAll) Enqueue(_ context.Context, p tasks.Payload, _ tasks.EnqueueOptions) (*asynq.TaskInfo, error) {
	a.n++
	return &asynq.TaskInfo{ID: p.JobID}, nil
}

func TestRegisterRoutes_EndToEnd(t *testing.T) {
	jobs := job.NewMemoryRepository()
	store := records.NewMemoryStore()
	_, err := store.UpsertChunk(context.Background(), []records.Record{{ExternalID: "9", OwnerName: "SMITH <JR>", SearchTerm: "Smith", ScrapedAt: time.Now()}})
	require.NoError(t, err)
	mgr := credential.NewManager(credential.NewStaticSource("tok"), 0)
	q := &acceptAll{}

	app := NewApp()
	hh := RegisterRoutes(app, Dependencies{
		Jobs:       jobs,
		Submitter:  ingest.NewEnqueuer(q, jobs, tasks.EnqueueOptions{Attempts: 3}),
		Records:    store,
		Credential: mgr,
		Checks:     []health.Check{{Name: "credential", Fn: func(context.Context) error { return nil }}},
	})
	hh.SetReady()

	req := httptest.NewRequest("POST", "/v1/jobs", strings.NewReader(`{"searchTerm":"Smith"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	assert.Equal(t, 1, q.n)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/records?term=Smith", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	var body struct {
		Total   int64            `json:"total"`
		Records []records.Record `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 1, body.Total)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "SMITH <JR>", body.Records[0].OwnerName)

	resp, err = app.Test(httptest.NewRequest("POST", "/v1/credential/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode, "stats work without a cache")

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
