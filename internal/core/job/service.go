package job

import (
	"context"
	"errors"
	"fmt"

	"harvester/internal/core/failure"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the service needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobService is the Postgres-backed Repository.
type JobService struct{ db DB }

func NewJobService(db DB) *JobService { return &JobService{db: db} }

var _ Repository = (*JobService)(nil)

const jobColumns = `id::text, search_term, status, progress, result_count, updated_count,
attempts_made, error, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var errMsg *string
	err := row.Scan(&j.ID, &j.SearchTerm, &j.Status, &j.Progress, &j.ResultCount, &j.UpdatedCount,
		&j.AttemptsMade, &errMsg, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return Job{}, err
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	return j, nil
}

func (s *JobService) CreatePending(ctx context.Context, id, term string) error {
	// The worker may already have created the row if it dequeued first.
	_, err := s.db.Exec(ctx, `
INSERT INTO jobs (id, search_term, status) VALUES ($1, $2, 'pending')
ON CONFLICT (id) DO NOTHING`, id, term)
	if err != nil {
		return fmt.Errorf("create job %s: %w", id, err)
	}
	return nil
}

func (s *JobService) MarkProcessing(ctx context.Context, id, term string, attempt int) (Job, error) {
	var prior Job
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		p, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			prior = p
		}
		_, err = tx.Exec(ctx, `
INSERT INTO jobs (id, search_term, status, attempts_made, started_at)
VALUES ($1, $2, 'processing', $3, now())
ON CONFLICT (id) DO UPDATE SET
    status        = 'processing',
    attempts_made = EXCLUDED.attempts_made,
    error         = NULL,
    started_at    = COALESCE(jobs.started_at, now()),
    completed_at  = NULL
WHERE jobs.status <> 'completed'`, id, term, attempt)
		return err
	})
	if err != nil {
		return Job{}, fmt.Errorf("mark job %s processing: %w", id, err)
	}
	return prior, nil
}

func (s *JobService) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.db.Exec(ctx, `UPDATE jobs SET progress = GREATEST(progress, $2) WHERE id = $1`, id, clampProgress(progress))
	if err != nil {
		return fmt.Errorf("update job %s progress: %w", id, err)
	}
	return nil
}

func (s *JobService) RecordChunk(ctx context.Context, id string, inserted, updated, progress int) error {
	tag, err := s.db.Exec(ctx, `
UPDATE jobs SET result_count = result_count + $2, updated_count = updated_count + $3,
    progress = GREATEST(progress, $4)
WHERE id = $1`, id, inserted, updated, clampProgress(progress))
	if err != nil {
		return fmt.Errorf("record job %s chunk: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record job %s chunk: %w", id, ErrNotFound)
	}
	return nil
}

func (s *JobService) RecordAttemptError(ctx context.Context, id string, attempt int, msg string) error {
	_, err := s.db.Exec(ctx, `
UPDATE jobs SET error = $3, attempts_made = $2, progress = 0
WHERE id = $1 AND status = 'processing'`, id, attempt, msg)
	if err != nil {
		return fmt.Errorf("record job %s attempt error: %w", id, err)
	}
	return nil
}

func (s *JobService) Complete(ctx context.Context, id string, inserted, updated, attempts int) error {
	tag, err := s.db.Exec(ctx, `
UPDATE jobs SET status = 'completed', progress = 100,
    result_count = result_count + $2, updated_count = updated_count + $3,
    attempts_made = $4, error = NULL, completed_at = now()
WHERE id = $1`, id, inserted, updated, attempts)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *JobService) Fail(ctx context.Context, id string, attempts int, msg string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE jobs SET status = 'failed', attempts_made = $2, error = $3, completed_at = now()
WHERE id = $1`, id, attempts, msg)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *JobService) List(ctx context.Context, f ListFilter) ([]Job, error) {
	rows, err := s.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs
WHERE $1::text = '' OR status = $1
ORDER BY created_at DESC
LIMIT $2`, string(f.Status), clampLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) { return scanJob(row) })
}

func (s *JobService) AttemptedTerms(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT search_term FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("load attempted terms: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// FailedTerms returns distinct terms that failed and have no completed or
// in-flight job since, most recent failure first.
func (s *JobService) FailedTerms(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT search_term FROM jobs
GROUP BY search_term
HAVING bool_or(status = 'failed') AND NOT bool_or(status <> 'failed')
ORDER BY max(created_at) DESC
LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("load failed terms: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *JobService) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, status := range Statuses {
		st.ByStatus[status] = 0
	}
	rows, err := s.db.Query(ctx, `
SELECT status, count(*), COALESCE(sum(result_count) FILTER (WHERE status = 'completed'), 0)
FROM jobs GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var n int
		var netNew int64
		if err := rows.Scan(&status, &n, &netNew); err != nil {
			return st, fmt.Errorf("job stats: %w", err)
		}
		st.ByStatus[status] = n
		st.Total += n
		st.NetNew += netNew
	}
	return st, rows.Err()
}

func (s *JobService) FailureCategories(ctx context.Context) (map[failure.Kind]int, error) {
	rows, err := s.db.Query(ctx, `SELECT error FROM jobs WHERE status = 'failed' AND error IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failure categories: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failure categories: %w", err)
	}
	return failure.Counts(msgs), nil
}
