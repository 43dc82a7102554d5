// Package orchestrator keeps the queue fed with fresh terms until the record
// store reaches its target size.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"harvester/internal/config"
	"harvester/internal/core/failure"
	"harvester/internal/core/generator"
	"harvester/internal/logger"
	"harvester/internal/platform/tasks"
)

// ErrTargetReached stops Run once the store holds the target number of records.
var ErrTargetReached = errors.New("record target reached")

type Submitter interface {
	Enqueue(ctx context.Context, term string, opts tasks.EnqueueOptions) (string, error)
}

type BacklogReader interface {
	Backlog() (tasks.Backlog, error)
}

type RecordCounter interface {
	Count(ctx context.Context) (int64, error)
}

type TermSource interface {
	NextBatch(n int) generator.Batch
}

// CorpusReloader is the generator corpus. Remove hands back terms whose
// enqueue failed outright so a later batch may draw them again.
type CorpusReloader interface {
	ReloadIfStale(ctx context.Context) (bool, error)
	Remove(term string) bool
}

type Deps struct {
	Submitter Submitter
	Backlog   BacklogReader
	Records   RecordCounter
	Terms     TermSource
	Corpus    CorpusReloader
}

type Options struct {
	Target     int64
	MaxBacklog int
	Batch      int
	Tick       time.Duration
}

func OptionsFromConfig(c config.OrchestratorConfig) Options {
	return Options{Target: int64(c.Target), MaxBacklog: c.MaxBacklog, Batch: c.Batch, Tick: c.Tick}
}

// TickResult summarizes one pass of the loop.
type TickResult struct {
	Reloaded  bool
	Records   int64
	Backlog   int
	Requested int
	Enqueued  int
	Spaced    int
	Failed    int
	Generator generator.Batch
}

type Orchestrator struct {
	deps Deps
	opts Options
	log  *logger.Logger
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.MaxBacklog <= 0 {
		opts.MaxBacklog = 50
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}
	if opts.Tick <= 0 {
		opts.Tick = 15 * time.Second
	}
	return &Orchestrator{deps: deps, opts: opts, log: logger.New("Orchestrator")}
}

// Tick runs one pass. It returns ErrTargetReached, with the result filled in,
// when no more work is needed.
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	if o.deps.Corpus != nil {
		reloaded, err := o.deps.Corpus.ReloadIfStale(ctx)
		if err != nil {
			// the in-memory corpus still rejects everything this process generated
			o.log.LogWarnf("corpus reload failed: %v", err)
		}
		res.Reloaded = reloaded
	}

	count, err := o.deps.Records.Count(ctx)
	if err != nil {
		return res, err
	}
	res.Records = count
	if o.opts.Target > 0 && count >= o.opts.Target {
		return res, ErrTargetReached
	}

	backlog, err := o.deps.Backlog.Backlog()
	if err != nil {
		return res, err
	}
	res.Backlog = backlog.Total()
	if res.Backlog >= o.opts.MaxBacklog {
		return res, nil
	}

	res.Requested = min(o.opts.Batch, o.opts.MaxBacklog-res.Backlog)
	res.Generator = o.deps.Terms.NextBatch(res.Requested)
	for _, term := range res.Generator.Terms {
		_, err := o.deps.Submitter.Enqueue(ctx, term, tasks.EnqueueOptions{Priority: tasks.PriorityLow})
		switch {
		case err == nil:
			res.Enqueued++
		case failure.Is(err, failure.RateLimitedResubmission):
			res.Spaced++
		default:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			if o.deps.Corpus != nil {
				o.deps.Corpus.Remove(term)
			}
			o.log.LogWarnf("enqueue %q failed: %v", term, err)
		}
	}
	return res, nil
}

// Run ticks until ctx is done or the target is reached. Tick errors other than
// the target are logged and the loop keeps going.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info().Int64("target", o.opts.Target).Int("max_backlog", o.opts.MaxBacklog).
		Int("batch", o.opts.Batch).Dur("tick", o.opts.Tick).Msg("orchestrator started")
	ticker := time.NewTicker(o.opts.Tick)
	defer ticker.Stop()

	var last int64 = -1
	for {
		res, err := o.Tick(ctx)
		switch {
		case errors.Is(err, ErrTargetReached):
			o.log.Success().Int64("records", res.Records).Int64("target", o.opts.Target).Msg("target reached, stopping")
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			o.log.LogErrorf("tick failed: %v", err)
		default:
			ev := o.log.Info()
			if last >= 0 {
				ev = ev.Int64("gained", res.Records-last)
			}
			ev.Int64("records", res.Records).Int("backlog", res.Backlog).Int("enqueued", res.Enqueued).
				Int("spaced", res.Spaced).Int("exact_dupes", res.Generator.ExactDuplicates).
				Int("near_dupes", res.Generator.NearDuplicates).Msg("tick")
			last = res.Records
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
