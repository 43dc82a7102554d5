package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/platform/redis"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeHarvest = "harvest:term"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues maps queue names to their dequeue weight.
var Queues = map[string]int{QueueCritical: 6, QueueDefault: 3, QueueLow: 1}

// ErrTermTooSoon is returned when the same term was enqueued within the spacing window.
var ErrTermTooSoon = errors.New("term requested too soon")

// maxRetryDelay caps the exponential backoff between attempts.
const maxRetryDelay = time.Hour

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) Queue() string {
	switch p {
	case PriorityHigh:
		return QueueCritical
	case PriorityLow:
		return QueueLow
	default:
		return QueueDefault
	}
}

// ParsePriority accepts high/normal/low and the queue names; empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", QueueDefault:
		return PriorityNormal, nil
	case "high", QueueCritical:
		return PriorityHigh, nil
	case "low":
		return PriorityLow, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Payload is the body of a harvest task.
type Payload struct {
	JobID      string `json:"job_id"`
	SearchTerm string `json:"search_term"`
	BackoffMS  int64  `json:"backoff_ms,omitempty"`
}

type EnqueueOptions struct {
	Priority Priority
	// Attempts is the total number of deliveries, including the first.
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
	// Delay holds the task back before its first delivery. Not merged.
	Delay time.Duration
}

// Merge fills zero fields of o from def.
func (o EnqueueOptions) Merge(def EnqueueOptions) EnqueueOptions {
	if o.Priority == "" {
		o.Priority = def.Priority
	}
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.Backoff <= 0 {
		o.Backoff = def.Backoff
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	return o
}

func NewHarvestTask(p Payload, opts EnqueueOptions) (*asynq.Task, []asynq.Option, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	p.BackoffMS = opts.Backoff.Milliseconds()
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	o := []asynq.Option{
		asynq.TaskID(p.JobID),
		asynq.Queue(opts.Priority.Queue()),
		asynq.MaxRetry(opts.Attempts - 1),
	}
	if opts.Timeout > 0 {
		o = append(o, asynq.Timeout(opts.Timeout))
	}
	if opts.Delay > 0 {
		o = append(o, asynq.ProcessIn(opts.Delay))
	}
	return asynq.NewTask(TaskTypeHarvest, b), o, nil
}

func ParsePayload(t *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.JobID == "" || strings.TrimSpace(p.SearchTerm) == "" {
		return p, fmt.Errorf("decode %s payload: job_id and search_term are required", t.Type())
	}
	return p, nil
}

// RetryDelay doubles the task's own backoff per retry, capped at an hour.
// Tasks without a backoff fall back to asynq's default.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	var p Payload
	if jerr := json.Unmarshal(t.Payload(), &p); jerr != nil || p.BackoffMS <= 0 {
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
	d := time.Duration(p.BackoffMS) * time.Millisecond
	for i := 0; i < n && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// SpacingKey is the Redis key guarding resubmission of term.
func SpacingKey(term string) string {
	return "spacing:" + strings.ToLower(strings.Join(strings.Fields(term), " "))
}

// Spacer reserves a key for a period of time.
type Spacer interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Client struct {
	c       enqueuer
	spacer  Spacer
	spacing time.Duration
}

func New(r *redis.Service, spacing time.Duration) *Client {
	return &Client{c: asynq.NewClient(r.AsynqRedisOpt()), spacer: r, spacing: spacing}
}

func (t *Client) Close() error { return t.c.Close() }

// Enqueue submits a harvest task. When spacing is enabled the term is reserved
// first and the reservation is released again if the enqueue fails.
func (t *Client) Enqueue(ctx context.Context, p Payload, opts EnqueueOptions) (*asynq.TaskInfo, error) {
	task, o, err := NewHarvestTask(p, opts)
	if err != nil {
		return nil, err
	}
	key := SpacingKey(p.SearchTerm)
	if t.spacing > 0 && t.spacer != nil {
		ok, err := t.spacer.Reserve(ctx, key, t.spacing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, failure.New(failure.RateLimitedResubmission, "enqueue",
				fmt.Errorf("%w: %q within %v", ErrTermTooSoon, p.SearchTerm, t.spacing))
		}
	}
	info, err := t.c.EnqueueContext(ctx, task, o...)
	if err != nil {
		if t.spacing > 0 && t.spacer != nil {
			_ = t.spacer.Release(context.WithoutCancel(ctx), key)
		}
		return nil, fmt.Errorf("enqueue %s: %w", p.SearchTerm, err)
	}
	return info, nil
}
