package job

import (
	"context"
	"errors"
	"time"

	"harvester/internal/core/failure"
)

var ErrNotFound = errors.New("job not found")

// Job is one unit of queued work scoped to a single search term.
// ResultCount is the net-new record count summed over every attempt and is
// only final once Status is completed.
type Job struct {
	ID           string     `json:"id"`
	SearchTerm   string     `json:"searchTerm"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	ResultCount  int        `json:"resultCount"`
	UpdatedCount int        `json:"updatedCount"`
	AttemptsMade int        `json:"attemptsMade"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Status for job tracking
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

func (s Status) Valid() bool {
	for _, x := range Statuses {
		if x == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

type ListFilter struct {
	Status Status
	Limit  int
}

// Stats aggregates the jobs table. NetNew is the sum of completed result counts.
type Stats struct {
	ByStatus map[Status]int `json:"byStatus"`
	Total    int            `json:"total"`
	NetNew   int64          `json:"netNew"`
}

// Repository persists job state transitions.
type Repository interface {
	CreatePending(ctx context.Context, id, term string) error
	// MarkProcessing moves the job to processing for the given 1-based attempt
	// and returns the row as it was before. A job with no row yet is created and
	// reported with an empty prior Status. Completed jobs are left untouched.
	MarkProcessing(ctx context.Context, id, term string, attempt int) (Job, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	// RecordChunk adds one committed chunk to the running result and updated
	// counts and raises progress. Counts accumulate across attempts, so rows a
	// failed attempt already inserted still count as net-new for the job.
	RecordChunk(ctx context.Context, id string, inserted, updated, progress int) error
	// RecordAttemptError stores a non-final failure; the job stays processing.
	RecordAttemptError(ctx context.Context, id string, attempt int, msg string) error
	// Complete marks the job completed, adding inserted and updated to the
	// counts already recorded by RecordChunk.
	Complete(ctx context.Context, id string, inserted, updated, attempts int) error
	Fail(ctx context.Context, id string, attempts int, msg string) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, f ListFilter) ([]Job, error)
	AttemptedTerms(ctx context.Context) ([]string, error)
	FailedTerms(ctx context.Context, limit int) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	FailureCategories(ctx context.Context) (map[failure.Kind]int, error)
}

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
