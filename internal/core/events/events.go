// Package events publishes job lifecycle notifications for monitoring.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Channel is the Redis pub/sub channel all job events go to.
const Channel = "harvester:jobs"

type Type string

const (
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeRetrying  Type = "retrying"
	TypeStalled   Type = "stalled"
)

type Event struct {
	Type        Type      `json:"type"`
	JobID       string    `json:"jobId"`
	Term        string    `json:"term"`
	Progress    int       `json:"progress,omitempty"`
	ResultCount int       `json:"resultCount,omitempty"`
	Updated     int       `json:"updated,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"maxAttempts,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher emits events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Broker is the pub/sub transport (the Redis service satisfies it).
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

type RedisPublisher struct {
	broker Broker
	now    func() time.Time
}

func NewPublisher(b Broker) *RedisPublisher {
	return &RedisPublisher{broker: b, now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = p.now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return p.broker.Publish(ctx, Channel, b)
}

// Subscribe decodes events from the channel until ctx is done. Undecodable
// messages are skipped.
func Subscribe(ctx context.Context, b Broker, fn func(Event)) error {
	return b.Subscribe(ctx, Channel, func(payload []byte) {
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return
		}
		fn(e)
	})
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	ch     chan Event
	events []Event
}

// NewRecorder buffers up to n events on C for consumers that want to wait on them.
func NewRecorder(n int) *Recorder { return &Recorder{ch: make(chan Event, n)} }

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

func (r *Recorder) C() <-chan Event { return r.ch }

// Events returns every event published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists published event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
