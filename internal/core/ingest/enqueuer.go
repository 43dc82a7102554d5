package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/core/job"
	"harvester/internal/logger"
	"harvester/internal/platform/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

var ErrEmptyTerm = errors.New("search term is required")

// retryStagger spaces re-queued failures so they do not hit the source at once.
const retryStagger = 6 * time.Second

// TaskQueue submits harvest tasks (tasks.Client in production).
type TaskQueue interface {
	Enqueue(ctx context.Context, p tasks.Payload, opts tasks.EnqueueOptions) (*asynq.TaskInfo, error)
}

type Enqueuer struct {
	queue    TaskQueue
	jobs     job.Repository
	defaults tasks.EnqueueOptions
	log      *logger.Logger
}

func NewEnqueuer(q TaskQueue, jobs job.Repository, defaults tasks.EnqueueOptions) *Enqueuer {
	return &Enqueuer{queue: q, jobs: jobs, defaults: defaults, log: logger.New("Enqueuer")}
}

// Enqueue submits term as a new job and returns its id. Options left zero take
// the configured defaults.
func (e *Enqueuer) Enqueue(ctx context.Context, term string, opts tasks.EnqueueOptions) (string, error) {
	term = strings.Join(strings.Fields(term), " ")
	if term == "" {
		return "", ErrEmptyTerm
	}
	id := uuid.NewString()
	opts = opts.Merge(e.defaults)
	if _, err := e.queue.Enqueue(ctx, tasks.Payload{JobID: id, SearchTerm: term}, opts); err != nil {
		return "", err
	}
	// The worker creates the row itself if it gets there first.
	if err := e.jobs.CreatePending(ctx, id, term); err != nil {
		e.log.LogWarnf("job %s queued but pending row not written: %v", id, err)
	}
	e.log.Debug().Str("job_id", id).Str("term", term).Str("priority", string(opts.Priority)).Msg("job enqueued")
	return id, nil
}

type RetryResult struct {
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Terms   []string `json:"terms"`
	JobIDs  []string `json:"jobIds"`
}

// RetryFailed re-queues up to limit terms whose jobs all failed, one new job
// per term, each delayed a little more than the last. Terms still inside their
// spacing window are skipped.
func (e *Enqueuer) RetryFailed(ctx context.Context, limit int) (RetryResult, error) {
	var res RetryResult
	terms, err := e.jobs.FailedTerms(ctx, limit)
	if err != nil {
		return res, err
	}
	for _, term := range terms {
		id := uuid.NewString()
		opts := e.defaults
		opts.Priority = tasks.PriorityLow
		opts.Delay = time.Duration(res.Queued) * retryStagger
		_, err := e.queue.Enqueue(ctx, tasks.Payload{JobID: id, SearchTerm: term}, opts)
		switch {
		case failure.Is(err, failure.RateLimitedResubmission):
			res.Skipped++
			continue
		case err != nil:
			e.log.LogWarnf("retry of %q not queued: %v", term, err)
			res.Failed++
			continue
		}
		if err := e.jobs.CreatePending(ctx, id, term); err != nil {
			e.log.LogWarnf("job %s queued but pending row not written: %v", id, err)
		}
		res.Queued++
		res.Terms = append(res.Terms, term)
		res.JobIDs = append(res.JobIDs, id)
	}
	e.log.Info().Int("queued", res.Queued).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("failed terms re-queued")
	return res, nil
}
