package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"harvester/internal/core/failure"
)

// MemoryRepository is an in-process Repository for tests and dry runs.
type MemoryRepository struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	history map[string][]Status
	seq     int
	now     func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: map[string]*Job{}, history: map[string][]Status{}, now: time.Now}
}

func (m *MemoryRepository) set(j *Job, s Status) {
	j.Status = s
	m.history[j.ID] = append(m.history[j.ID], s)
}

func (m *MemoryRepository) create(id, term string) *Job {
	m.seq++
	// created_at ordering must be stable even when the clock does not advance.
	j := &Job{ID: id, SearchTerm: term, CreatedAt: m.now().Add(time.Duration(m.seq) * time.Microsecond)}
	m.jobs[id] = j
	return j
}

func (m *MemoryRepository) CreatePending(_ context.Context, id, term string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; ok {
		return nil
	}
	m.set(m.create(id, term), StatusPending)
	return nil
}

func (m *MemoryRepository) MarkProcessing(_ context.Context, id, term string, attempt int) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prior Job
	j, ok := m.jobs[id]
	if ok {
		prior = *j
		if j.Status == StatusCompleted {
			return prior, nil
		}
	} else {
		j = m.create(id, term)
	}
	now := m.now()
	m.set(j, StatusProcessing)
	j.AttemptsMade = attempt
	j.Error = ""
	j.CompletedAt = nil
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	return prior, nil
}

func (m *MemoryRepository) UpdateProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && clampProgress(progress) > j.Progress {
		j.Progress = clampProgress(progress)
	}
	return nil
}

func (m *MemoryRepository) RecordChunk(_ context.Context, id string, inserted, updated, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.ResultCount += inserted
	j.UpdatedCount += updated
	if clampProgress(progress) > j.Progress {
		j.Progress = clampProgress(progress)
	}
	return nil
}

func (m *MemoryRepository) RecordAttemptError(_ context.Context, id string, attempt int, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.Status == StatusProcessing {
		j.Error = msg
		j.AttemptsMade = attempt
		j.Progress = 0
	}
	return nil
}

func (m *MemoryRepository) Complete(_ context.Context, id string, inserted, updated, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	m.set(j, StatusCompleted)
	j.Progress = 100
	j.ResultCount += inserted
	j.UpdatedCount += updated
	j.AttemptsMade = attempts
	j.Error = ""
	j.CompletedAt = &now
	return nil
}

func (m *MemoryRepository) Fail(_ context.Context, id string, attempts int, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	m.set(j, StatusFailed)
	j.AttemptsMade = attempts
	j.Error = msg
	j.CompletedAt = &now
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

// History returns the status transitions recorded for id.
func (m *MemoryRepository) History(id string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Status(nil), m.history[id]...)
}

func (m *MemoryRepository) sorted() []Job {
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (m *MemoryRepository) List(_ context.Context, f ListFilter) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := clampLimit(f.Limit)
	var out []Job
	for _, j := range m.sorted() {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) AttemptedTerms(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, j := range m.jobs {
		if _, ok := seen[j.SearchTerm]; ok {
			continue
		}
		seen[j.SearchTerm] = struct{}{}
		out = append(out, j.SearchTerm)
	}
	return out, nil
}

func (m *MemoryRepository) FailedTerms(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := map[string]bool{}
	var order []string
	for _, j := range m.sorted() {
		ok, seen := failed[j.SearchTerm]
		if !seen {
			order = append(order, j.SearchTerm)
			ok = true
		}
		failed[j.SearchTerm] = ok && j.Status == StatusFailed
	}
	var out []string
	for _, t := range order {
		if failed[t] {
			out = append(out, t)
		}
		if len(out) == clampLimit(limit) {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		st.ByStatus[s] = 0
	}
	for _, j := range m.jobs {
		st.ByStatus[j.Status]++
		st.Total++
		if j.Status == StatusCompleted {
			st.NetNew += int64(j.ResultCount)
		}
	}
	return st, nil
}

func (m *MemoryRepository) FailureCategories(context.Context) (map[failure.Kind]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []string
	for _, j := range m.jobs {
		if j.Status == StatusFailed && j.Error != "" {
			msgs = append(msgs, j.Error)
		}
	}
	return failure.Counts(msgs), nil
}
