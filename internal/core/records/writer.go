package records

import (
	"context"
	"fmt"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/logger"
)

const DefaultChunkSize = 500

// ChunkResult is the outcome of a single upsert statement.
type ChunkResult struct {
	Index    int `json:"index"`
	Size     int `json:"size"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// PersistResult aggregates every chunk written for one term. Inserted is the
// net-new count; Updated counts rows that already existed.
type PersistResult struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Chunks   []ChunkResult `json:"chunks"`
}

// ChunkFunc is called after each committed chunk with the rows written so far.
type ChunkFunc func(chunk ChunkResult, written, total int)

type Writer struct {
	store     Store
	chunkSize int
	now       func() time.Time
	log       *logger.Logger
}

func NewWriter(store Store, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{store: store, chunkSize: chunkSize, now: time.Now, log: logger.New("RecordWriter")}
}

func (w *Writer) ChunkSize() int { return w.chunkSize }

// Persist stamps recs with term and the scrape time, collapses duplicate
// external IDs (last one wins) and writes them in chunks. Chunks commit
// independently: on error the returned result covers the chunks already written.
func (w *Writer) Persist(ctx context.Context, recs []Record, term string, onChunk ChunkFunc) (PersistResult, error) {
	res := PersistResult{}
	rows := dedupe(recs)
	if len(rows) == 0 {
		return res, nil
	}
	scrapedAt := w.now().UTC()
	for i := range rows {
		rows[i].SearchTerm = term
		rows[i].ScrapedAt = scrapedAt
	}

	written := 0
	for start, idx := 0, 0; start < len(rows); start, idx = start+w.chunkSize, idx+1 {
		end := start + w.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		flags, err := w.store.UpsertChunk(ctx, chunk)
		if err != nil {
			return res, failure.New(failure.Persistence, fmt.Sprintf("upsert chunk %d", idx), err)
		}
		if len(flags) != len(chunk) {
			return res, failure.New(failure.Persistence, fmt.Sprintf("upsert chunk %d", idx),
				fmt.Errorf("store reported %d rows for a chunk of %d", len(flags), len(chunk)))
		}
		cr := ChunkResult{Index: idx, Size: len(chunk)}
		for _, inserted := range flags {
			if inserted {
				cr.Inserted++
			} else {
				cr.Updated++
			}
		}
		res.Inserted += cr.Inserted
		res.Updated += cr.Updated
		res.Chunks = append(res.Chunks, cr)
		written += len(chunk)

		w.log.Debug().Str("term", term).Int("chunk", idx).Int("inserted", cr.Inserted).Int("updated", cr.Updated).Msg("chunk committed")
		if onChunk != nil {
			onChunk(cr, written, len(rows))
		}
	}
	return res, nil
}

// dedupe keeps the last occurrence of each external ID in first-seen order.
// Postgres rejects an upsert that touches the same key twice in one statement.
func dedupe(recs []Record) []Record {
	pos := make(map[string]int, len(recs))
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.ExternalID == "" {
			continue
		}
		if i, ok := pos[r.ExternalID]; ok {
			out[i] = r
			continue
		}
		pos[r.ExternalID] = len(out)
		out = append(out, r)
	}
	return out
}
