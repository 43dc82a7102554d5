package tasks

import (
	"errors"
	"fmt"

	"harvester/internal/platform/redis"

	"github.com/hibiken/asynq"
)

// Backlog is the queue depth across all harvest queues.
type Backlog struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Scheduled int `json:"scheduled"`
	Retry     int `json:"retry"`
}

func (b Backlog) Total() int { return b.Pending + b.Active + b.Scheduled + b.Retry }

type queueInfoer interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

type Inspector struct{ i queueInfoer }

func NewInspector(r *redis.Service) *Inspector {
	return &Inspector{i: asynq.NewInspector(r.AsynqRedisOpt())}
}

func (in *Inspector) Close() error { return in.i.Close() }

// Backlog sums every harvest queue. Queues that have never received a task
// count as empty.
func (in *Inspector) Backlog() (Backlog, error) {
	var b Backlog
	existing, err := in.i.Queues()
	if err != nil {
		return b, fmt.Errorf("list queues: %w", err)
	}
	for _, q := range existing {
		if _, ours := Queues[q]; !ours {
			continue
		}
		info, err := in.i.GetQueueInfo(q)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return b, fmt.Errorf("queue %s info: %w", q, err)
		}
		b.Pending += info.Pending
		b.Active += info.Active
		b.Scheduled += info.Scheduled
		b.Retry += info.Retry
	}
	return b, nil
}
