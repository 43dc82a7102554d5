package worker

import (
	"context"
	"fmt"
	"time"

	"harvester/internal/config"
	"harvester/internal/logger"
	"harvester/internal/platform/tasks"

	"github.com/hibiken/asynq"
)

type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

// NewServer builds the asynq server that drains the harvest queues with the
// configured concurrency and the per-task backoff from tasks.RetryDelay.
func NewServer(opt asynq.RedisConnOpt, cfg config.JobsConfig) *asynq.Server {
	log := logger.New("Worker")
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          tasks.Queues,
		RetryDelayFunc:  tasks.RetryDelay,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			id, _ := asynq.GetTaskID(ctx)
			log.Warn().Str("task_id", id).Str("type", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Err(err).Msg("task attempt failed")
		}),
		Logger:   asynqLogger{log},
		LogLevel: asynq.WarnLevel,
	})
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct{ l *logger.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(sprint(args)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(sprint(args)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(sprint(args)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(sprint(args)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(sprint(args)) }

func sprint(args []interface{}) string { return fmt.Sprint(args...) }
