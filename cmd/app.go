package main

import (
	"context"
	"errors"
	"fmt"

	"harvester/internal/config"
	"harvester/internal/core/collector"
	"harvester/internal/core/credential"
	"harvester/internal/core/events"
	"harvester/internal/core/generator"
	"harvester/internal/core/ingest"
	"harvester/internal/core/job"
	"harvester/internal/core/orchestrator"
	"harvester/internal/core/records"
	"harvester/internal/health"
	"harvester/internal/platform/postgres"
	rds "harvester/internal/platform/redis"
	"harvester/internal/platform/tasks"
	"harvester/internal/worker"

	"github.com/hibiken/asynq"
)

// services holds the shared infrastructure every long-running command needs.
type services struct {
	cfg      config.Config
	redis    *rds.Service
	pg       *postgres.Service
	jobs     *job.JobService
	store    *records.PgStore
	tasks    *tasks.Client
	enqueuer *ingest.Enqueuer
}

func openServices(ctx context.Context, cfg config.Config) (*services, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	redisSvc, err := rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return nil, err
	}
	pg, err := postgres.New(ctx, postgres.Options{URL: cfg.DatabaseURL, MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		_ = redisSvc.Close()
		return nil, err
	}
	s := &services{
		cfg:   cfg,
		redis: redisSvc,
		pg:    pg,
		jobs:  job.NewJobService(pg.Pool()),
		store: records.NewPgStore(pg.Pool()),
		tasks: tasks.New(redisSvc, cfg.Jobs.TermSpacing),
	}
	s.enqueuer = ingest.NewEnqueuer(s.tasks, s.jobs, enqueueDefaults(cfg))
	return s, nil
}

func (s *services) Close() {
	_ = s.tasks.Close()
	s.pg.Close()
	_ = s.redis.Close()
}

func enqueueDefaults(cfg config.Config) tasks.EnqueueOptions {
	return tasks.EnqueueOptions{
		Priority: tasks.PriorityNormal,
		Attempts: cfg.Jobs.Attempts,
		Backoff:  cfg.Jobs.Backoff,
		Timeout:  cfg.Jobs.Timeout,
	}
}

// credentialSource prefers the static token and falls back to browser capture
// when both are configured.
func credentialSource(c config.CredentialConfig) credential.Source {
	var sources []credential.Source
	if c.StaticToken != "" {
		sources = append(sources, credential.NewStaticSource(c.StaticToken))
	}
	if c.CaptureURL != "" {
		sources = append(sources, credential.NewSessionCaptureSource(credential.CaptureOptions{
			PageURL:       c.CaptureURL,
			Match:         c.CaptureMatch,
			InputSelector: c.CaptureInput,
			Timeout:       c.CaptureTimeout,
		}))
	}
	if len(sources) == 1 {
		return sources[0]
	}
	return credential.NewFallbackSource(sources...)
}

// startCredentials builds the manager and starts its refresh schedule. The
// first refresh runs in the background.
func startCredentials(ctx context.Context, cfg config.Config) (*credential.Manager, error) {
	if err := cfg.RequireCredential(); err != nil {
		return nil, err
	}
	mgr := credential.NewManager(credentialSource(cfg.Credential), cfg.Credential.CaptureTimeout)
	sched := credential.Schedule{Interval: cfg.Credential.RefreshInterval, Cron: cfg.Credential.RefreshCron}
	if err := mgr.Start(ctx, sched); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (s *services) newGenerator(ctx context.Context) (*generator.Generator, *generator.Corpus, error) {
	vocab := generator.DefaultVocabulary()
	if s.cfg.Generator.VocabFile != "" {
		v, err := generator.LoadVocabulary(s.cfg.Generator.VocabFile)
		if err != nil {
			return nil, nil, err
		}
		vocab = v
	}
	corpus := generator.NewCorpus(s.jobs, s.cfg.Generator.ReloadInterval)
	n, err := corpus.Reload(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initial corpus load: %w", err)
	}
	logr.LogInfof("corpus loaded with %d attempted terms", n)
	gen, err := generator.New(vocab, corpus)
	if err != nil {
		return nil, nil, err
	}
	return gen, corpus, nil
}

func (s *services) newOrchestrator(gen *generator.Generator, corpus *generator.Corpus, inspector *tasks.Inspector) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Submitter: s.enqueuer,
		Backlog:   inspector,
		Records:   s.store,
		Terms:     gen,
		Corpus:    corpus,
	}, orchestrator.OptionsFromConfig(s.cfg.Orchestrator))
}

// newWorkerServer wires the harvest handler into an asynq server. terms may be
// nil when no generator runs in this process.
func (s *services) newWorkerServer(tokens ingest.TokenProvider, terms ingest.TermRecorder) (*asynq.Server, *worker.Mux) {
	w := ingest.NewWorker(ingest.WorkerDeps{
		Jobs:      s.jobs,
		Tokens:    tokens,
		Collector: collector.New(collector.OptionsFromConfig(s.cfg.Source)),
		Writer:    records.NewWriter(s.store, s.cfg.Jobs.ChunkSize),
		Events:    events.NewPublisher(s.redis),
		Terms:     terms,
	})
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeHarvest, w.HandleHarvestTask)
	return worker.NewServer(s.redis.AsynqRedisOpt(), s.cfg.Jobs), mux
}

func (s *services) healthChecks(mgr *credential.Manager) []health.Check {
	return []health.Check{
		{Name: "redis", Fn: s.redis.HealthCheck},
		{Name: "postgres", Fn: s.pg.HealthCheck},
		{Name: "credential", Fn: func(context.Context) error {
			if h := mgr.Health(); !h.Healthy {
				if !h.HasToken {
					return credential.ErrNoToken
				}
				return errors.New("credential refresh failure rate too high")
			}
			return nil
		}},
	}
}
