// Package ingest runs harvest jobs: it submits terms to the queue and, on the
// worker side, takes one term through token, collection and persistence.
package ingest

import (
	"context"
	"fmt"
	"math"

	"harvester/internal/core/collector"
	"harvester/internal/core/events"
	"harvester/internal/core/failure"
	"harvester/internal/core/job"
	"harvester/internal/core/records"
	"harvester/internal/logger"
	"harvester/internal/platform/tasks"

	"github.com/hibiken/asynq"
)

// Progress milestones reported while a job runs.
const (
	progressToken     = 10
	progressCollected = 30
	progressCollectMx = 70
	progressPersisted = 95
	// collections at or above this size report the full collection milestone.
	largeResultSet = 1000
)

type TokenProvider interface {
	Token() (string, error)
}

type Collector interface {
	Collect(ctx context.Context, term, token string) (collector.Result, error)
}

type Persister interface {
	Persist(ctx context.Context, recs []records.Record, term string, onChunk records.ChunkFunc) (records.PersistResult, error)
}

// TermRecorder is told about every term a job finished with, so the generator
// corpus sees it before its next reload.
type TermRecorder interface {
	Add(term string) bool
}

// AttemptInfo describes the current delivery of a task.
type AttemptInfo struct {
	TaskID string
	// Retried is the number of earlier deliveries; MaxRetry the number allowed.
	Retried  int
	MaxRetry int
}

func (a AttemptInfo) Attempt() int     { return a.Retried + 1 }
func (a AttemptInfo) MaxAttempts() int { return a.MaxRetry + 1 }
func (a AttemptInfo) Final() bool      { return a.Retried >= a.MaxRetry }

// AttemptFromContext reads the delivery metadata asynq attaches to the handler context.
func AttemptFromContext(ctx context.Context) AttemptInfo {
	var a AttemptInfo
	a.TaskID, _ = asynq.GetTaskID(ctx)
	a.Retried, _ = asynq.GetRetryCount(ctx)
	a.MaxRetry, _ = asynq.GetMaxRetry(ctx)
	return a
}

type WorkerDeps struct {
	Jobs      job.Repository
	Tokens    TokenProvider
	Collector Collector
	Writer    Persister
	Events    events.Publisher
	Terms     TermRecorder
	// Attempt defaults to AttemptFromContext.
	Attempt func(ctx context.Context) AttemptInfo
}

type Worker struct {
	jobs      job.Repository
	tokens    TokenProvider
	collector Collector
	writer    Persister
	events    events.Publisher
	terms     TermRecorder
	attempt   func(ctx context.Context) AttemptInfo
	log       *logger.Logger
}

func NewWorker(d WorkerDeps) *Worker {
	w := &Worker{
		jobs:      d.Jobs,
		tokens:    d.Tokens,
		collector: d.Collector,
		writer:    d.Writer,
		events:    d.Events,
		terms:     d.Terms,
		attempt:   d.Attempt,
		log:       logger.New("HarvestWorker"),
	}
	if w.attempt == nil {
		w.attempt = AttemptFromContext
	}
	return w
}

// HandleHarvestTask is the asynq handler for tasks.TaskTypeHarvest.
func (w *Worker) HandleHarvestTask(ctx context.Context, t *asynq.Task) error {
	p, err := tasks.ParsePayload(t)
	if err != nil {
		w.log.LogErrorf("dropping undecodable task: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, p.JobID, p.SearchTerm, w.attempt(ctx))
}

// Run takes one job through pending -> processing -> completed|failed. A non-nil
// error tells the queue the attempt failed; whether it is retried is decided by
// the queue from the task's retry budget.
func (w *Worker) Run(ctx context.Context, jobID, term string, at AttemptInfo) error {
	log := w.log.With(map[string]interface{}{"job_id": jobID, "term": term})

	prior, err := w.jobs.MarkProcessing(ctx, jobID, term, at.Attempt())
	if err != nil {
		return w.fail(ctx, log, jobID, term, at, failure.New(failure.Persistence, "mark processing", err))
	}
	switch {
	case prior.Status == job.StatusCompleted:
		log.LogInfo("job already completed, skipping redelivery")
		return nil
	case prior.Status == job.StatusProcessing && prior.Error == "":
		// The previous delivery never recorded an outcome: its worker died.
		log.Warn().Int("attempt", at.Attempt()).Msg("recovering stalled job")
		w.publish(ctx, events.Event{Type: events.TypeStalled, JobID: jobID, Term: term, Attempt: prior.AttemptsMade})
	}
	log.Info().Int("attempt", at.Attempt()).Int("max_attempts", at.MaxAttempts()).Msg("job started")

	token, err := w.tokens.Token()
	if err != nil {
		return w.fail(ctx, log, jobID, term, at, err)
	}
	w.progress(ctx, jobID, term, progressToken)

	res, err := w.collector.Collect(ctx, term, token)
	if err != nil {
		return w.fail(ctx, log, jobID, term, at, err)
	}
	collected := collectionProgress(len(res.Records))
	w.progress(ctx, jobID, term, collected)
	log.Debug().Int("records", len(res.Records)).Int("pages", res.Pages).Int("dropped", res.Dropped).Msg("collection complete")

	// Counts are recorded per committed chunk so rows inserted by an attempt
	// that later fails still count toward the job. Counts that could not be
	// recorded are carried to the next chunk or to Complete.
	var carry records.ChunkResult
	pr, err := w.writer.Persist(ctx, res.Records, term, func(cr records.ChunkResult, written, total int) {
		p := collected + (progressPersisted-collected)*written/total
		carry.Inserted += cr.Inserted
		carry.Updated += cr.Updated
		if err := w.jobs.RecordChunk(ctx, jobID, carry.Inserted, carry.Updated, p); err != nil {
			log.Warn().Err(err).Int("chunk", cr.Index).Msg("chunk counts not recorded yet")
		} else {
			carry = records.ChunkResult{}
		}
		w.publish(ctx, events.Event{Type: events.TypeProgress, JobID: jobID, Term: term, Progress: p})
	})
	if err != nil {
		if carry.Inserted > 0 || carry.Updated > 0 {
			if rerr := w.jobs.RecordChunk(ctx, jobID, carry.Inserted, carry.Updated, 0); rerr != nil {
				log.Error().Err(rerr).Int("inserted", carry.Inserted).Msg("committed chunk counts lost")
			}
		}
		return w.fail(ctx, log, jobID, term, at, err)
	}

	if err := w.jobs.Complete(ctx, jobID, carry.Inserted, carry.Updated, at.Attempt()); err != nil {
		return w.fail(ctx, log, jobID, term, at, failure.New(failure.Persistence, "complete job", err))
	}
	if w.terms != nil {
		w.terms.Add(term)
	}
	inserted := prior.ResultCount + pr.Inserted
	updated := prior.UpdatedCount + pr.Updated
	w.publish(ctx, events.Event{
		Type: events.TypeCompleted, JobID: jobID, Term: term, Progress: 100,
		ResultCount: inserted, Updated: updated, Attempt: at.Attempt(),
	})
	log.Success().Int("inserted", inserted).Int("updated", updated).
		Int("attempt_inserted", pr.Inserted).Int("chunks", len(pr.Chunks)).Msg("job completed")
	return nil
}

// fail records err on the job. The final attempt marks it failed; earlier
// attempts keep it processing so the retry can pick it up.
func (w *Worker) fail(ctx context.Context, log *logger.Logger, jobID, term string, at AttemptInfo, cause error) error {
	kind := failure.KindOf(cause)
	msg := cause.Error()
	ev := events.Event{
		JobID: jobID, Term: term, Attempt: at.Attempt(), MaxAttempts: at.MaxAttempts(),
		Kind: string(kind), Error: msg,
	}
	if at.Final() {
		if err := w.jobs.Fail(ctx, jobID, at.Attempt(), msg); err != nil {
			log.Error().Err(err).Msg("could not record failure")
		}
		if w.terms != nil {
			w.terms.Add(term)
		}
		ev.Type = events.TypeFailed
		log.Error().Str("kind", string(kind)).Int("attempt", at.Attempt()).Err(cause).Msg("job failed")
	} else {
		if err := w.jobs.RecordAttemptError(ctx, jobID, at.Attempt(), msg); err != nil {
			log.Error().Err(err).Msg("could not record attempt error")
		}
		ev.Type = events.TypeRetrying
		log.Warn().Str("kind", string(kind)).Int("attempt", at.Attempt()).Int("max_attempts", at.MaxAttempts()).Err(cause).Msg("attempt failed, will retry")
	}
	w.publish(ctx, ev)
	return cause
}

func (w *Worker) progress(ctx context.Context, jobID, term string, p int) {
	if err := w.jobs.UpdateProgress(ctx, jobID, p); err != nil {
		w.log.LogWarnf("progress update for %s failed: %v", jobID, err)
	}
	w.publish(ctx, events.Event{Type: events.TypeProgress, JobID: jobID, Term: term, Progress: p})
}

func (w *Worker) publish(ctx context.Context, e events.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, e); err != nil {
		w.log.LogDebugf("publish %s event failed: %v", e.Type, err)
	}
}

// collectionProgress scales the collection milestone from 30 to 70 by result size.
func collectionProgress(n int) int {
	frac := math.Min(1, float64(n)/largeResultSet)
	return progressCollected + int(float64(progressCollectMx-progressCollected)*frac)
}
