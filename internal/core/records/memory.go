package records

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Record
	now  func() time.Time
}

func NewMemoryStore(seed ...Record) *MemoryStore {
	s := &MemoryStore{rows: make(map[string]Record, len(seed)), now: time.Now}
	for _, r := range seed {
		s.rows[r.ExternalID] = r
	}
	return s
}

func (s *MemoryStore) UpsertChunk(_ context.Context, recs []Record) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	flags := make([]bool, len(recs))
	for i, r := range recs {
		prev, exists := s.rows[r.ExternalID]
		if exists {
			r.CreatedAt = prev.CreatedAt
		} else {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		s.rows[r.ExternalID] = r
		flags[i] = !exists
	}
	return flags, nil
}

func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// Get returns the stored row for id.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

// Recent mirrors PgStore.Recent.
func (s *MemoryStore) Recent(_ context.Context, term string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.rows {
		if term == "" || r.SearchTerm == term {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ScrapedAt.Equal(out[b].ScrapedAt) {
			return out[a].ExternalID < out[b].ExternalID
		}
		return out[a].ScrapedAt.After(out[b].ScrapedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
