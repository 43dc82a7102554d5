package ingest

import (
	"context"
	"errors"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/core/job"
	"harvester/internal/logger"
	"harvester/internal/platform/tasks"
	"harvester/internal/utils/parser"

	"github.com/gofiber/fiber/v2"
)

const (
	statsCacheKey = "harvester:stats"
	statsCacheTTL = 10 * time.Second
)

// Submitter is the enqueue side of the service (Enqueuer in production).
type Submitter interface {
	Enqueue(ctx context.Context, term string, opts tasks.EnqueueOptions) (string, error)
	RetryFailed(ctx context.Context, limit int) (RetryResult, error)
}

type RecordCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Cache is optional; the Redis service satisfies it.
type Cache interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error
}

type Handler struct {
	submit  Submitter
	jobs    job.Repository
	records RecordCounter
	cache   Cache
	log     *logger.Logger
}

func NewHandler(submit Submitter, jobs job.Repository, records RecordCounter, cache Cache) *Handler {
	return &Handler{submit: submit, jobs: jobs, records: records, cache: cache, log: logger.New("JobsHandler")}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

type createJobRequest struct {
	SearchTerm     string  `json:"searchTerm"`
	Priority       string  `json:"priority"`
	Attempts       int     `json:"attempts"`
	BackoffSeconds float64 `json:"backoffSeconds"`
}

type createJobResponse struct {
	Success bool       `json:"success"`
	JobID   string     `json:"jobId"`
	Status  job.Status `json:"status"`
}

type listJobsResponse struct {
	Success bool      `json:"success"`
	Jobs    []job.Job `json:"jobs"`
}

type retryRequest struct {
	Limit int `json:"limit"`
}

// StatsResponse is the aggregate view served at /v1/stats.
type StatsResponse struct {
	Jobs        job.Stats            `json:"jobs"`
	Records     int64                `json:"records"`
	Failures    map[failure.Kind]int `json:"failures"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

func respondError(c *fiber.Ctx, status int, err error) error {
	resp := errorResponse{Success: false, Error: err.Error()}
	var fe *failure.Error
	if errors.As(err, &fe) {
		resp.Kind = string(fe.Kind)
	}
	return c.Status(status).JSON(resp)
}

func (h *Handler) HandleCreateJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, errors.New("invalid body"))
	}
	prio, err := tasks.ParsePriority(req.Priority)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, err)
	}
	if req.Attempts < 0 || req.BackoffSeconds < 0 {
		return respondError(c, fiber.StatusBadRequest, errors.New("attempts and backoffSeconds must not be negative"))
	}
	opts := tasks.EnqueueOptions{
		Priority: prio,
		Attempts: req.Attempts,
		Backoff:  time.Duration(req.BackoffSeconds * float64(time.Second)),
	}
	id, err := h.submit.Enqueue(c.UserContext(), req.SearchTerm, opts)
	switch {
	case errors.Is(err, ErrEmptyTerm):
		return respondError(c, fiber.StatusBadRequest, err)
	case failure.Is(err, failure.RateLimitedResubmission):
		return respondError(c, fiber.StatusTooManyRequests, err)
	case err != nil:
		h.log.LogErrorf("enqueue %q failed: %v", req.SearchTerm, err)
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(createJobResponse{Success: true, JobID: id, Status: job.StatusPending})
}

type listJobsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" default:"50"`
}

func (h *Handler) HandleListJobs(c *fiber.Ctx) error {
	var q listJobsQuery
	if err := parser.ParseQuery(c, &q); err != nil {
		return respondError(c, fiber.StatusBadRequest, err)
	}
	f := job.ListFilter{Status: job.Status(q.Status), Limit: q.Limit}
	if f.Status != "" && !f.Status.Valid() {
		return respondError(c, fiber.StatusBadRequest, errors.New("unknown status "+string(f.Status)))
	}
	jobs, err := h.jobs.List(c.UserContext(), f)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	return c.JSON(listJobsResponse{Success: true, Jobs: jobs})
}

func (h *Handler) HandleGetJob(c *fiber.Ctx) error {
	j, err := h.jobs.Get(c.UserContext(), c.Params("jobId"))
	if errors.Is(err, job.ErrNotFound) {
		return respondError(c, fiber.StatusNotFound, errors.New("not_found"))
	}
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(j)
}

func (h *Handler) HandleRetryFailed(c *fiber.Ctx) error {
	var req retryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, errors.New("invalid body"))
		}
	}
	res, err := h.submit.RetryFailed(c.UserContext(), req.Limit)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	if res.Terms == nil {
		res.Terms = []string{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"queued":  res.Queued,
		"skipped": res.Skipped,
		"failed":  res.Failed,
		"terms":   res.Terms,
	})
}

// HandleStats serves aggregates, cached briefly. ?fresh=true bypasses the cache.
func (h *Handler) HandleStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.cache != nil && !c.QueryBool("fresh") {
		var cached StatsResponse
		if err := h.cache.CacheGet(ctx, statsCacheKey, &cached); err == nil {
			c.Set("X-Cache", "hit")
			return c.JSON(cached)
		}
	}
	st, err := h.Stats(ctx)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	if h.cache != nil {
		if err := h.cache.CacheSet(ctx, statsCacheKey, st, statsCacheTTL); err != nil {
			h.log.LogDebugf("stats cache write failed: %v", err)
		}
	}
	c.Set("X-Cache", "miss")
	return c.JSON(st)
}

// Stats computes the aggregate view without the cache.
func (h *Handler) Stats(ctx context.Context) (StatsResponse, error) {
	js, err := h.jobs.Stats(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	n, err := h.records.Count(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	cats, err := h.jobs.FailureCategories(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	return StatsResponse{Jobs: js, Records: n, Failures: cats, GeneratedAt: time.Now().UTC()}, nil
}
