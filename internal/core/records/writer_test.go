package records

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"harvester/internal/core/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecords(prefix string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{ExternalID: fmt.Sprintf("%s-%d", prefix, i), OwnerName: "Owner", City: "Austin"}
	}
	return out
}

func TestPersist_CountsOnlyNetNewRows(t *testing.T) {
	store := NewMemoryStore(Record{ExternalID: "100", OwnerName: "Old Owner"})
	w := NewWriter(store, 500)

	res, err := w.Persist(context.Background(), []Record{
		{ExternalID: "100", OwnerName: "New Owner"},
		{ExternalID: "101"},
		{ExternalID: "102"},
	}, "smith", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	r, ok := store.Get("100")
	require.True(t, ok)
	assert.Equal(t, "New Owner", r.OwnerName, "conflicting rows take incoming values")
	assert.Equal(t, "smith", r.SearchTerm)
	assert.False(t, r.ScrapedAt.IsZero())
}

func TestPersist_ChunkedResultSumsToNetNew(t *testing.T) {
	store := NewMemoryStore(makeRecords("oak", 50)...)
	w := NewWriter(store, 100)

	var seen []ChunkResult
	var lastWritten int
	res, err := w.Persist(context.Background(), makeRecords("oak", 500), "Oak", func(c ChunkResult, written, total int) {
		seen = append(seen, c)
		lastWritten = written
		assert.Equal(t, 500, total)
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 5)
	assert.Equal(t, seen, res.Chunks)
	assert.Equal(t, 500, lastWritten)

	sum := 0
	for i, c := range res.Chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 100, c.Size)
		sum += c.Inserted
	}
	assert.Equal(t, 450, sum)
	assert.Equal(t, sum, res.Inserted)
	assert.Equal(t, 50, res.Updated)

	n, _ := store.Count(context.Background())
	assert.EqualValues(t, 500, n)
}

func TestPersist_IsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, 3)
	batch := makeRecords("x", 10)

	first, err := w.Persist(context.Background(), batch, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Inserted)

	second, err := w.Persist(context.Background(), batch, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 10, second.Updated)
	assert.Len(t, second.Chunks, 4)
}

func TestPersist_CollapsesDuplicateIDsAndDropsEmpty(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, 500)

	res, err := w.Persist(context.Background(), []Record{
		{ExternalID: "1", OwnerName: "first"},
		{ExternalID: ""},
		{ExternalID: "2"},
		{ExternalID: "1", OwnerName: "last"},
	}, "t", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	r, _ := store.Get("1")
	assert.Equal(t, "last", r.OwnerName)

	res, err = w.Persist(context.Background(), nil, "t", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
}

type failingStore struct {
	*MemoryStore
	failOn int
	calls  int
}

func (f *failingStore) UpsertChunk(ctx context.Context, recs []Record) ([]bool, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, errors.New("connection reset by peer")
	}
	return f.MemoryStore.UpsertChunk(ctx, recs)
}

func TestPersist_ChunkFailureKeepsCommittedChunks(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failOn: 2}
	w := NewWriter(store, 10)

	res, err := w.Persist(context.Background(), makeRecords("p", 30), "p", nil)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Persistence))
	assert.Equal(t, 10, res.Inserted)
	assert.Len(t, res.Chunks, 1)

	n, _ := store.Count(context.Background())
	assert.EqualValues(t, 10, n)
}

func TestNewWriter_DefaultChunkSize(t *testing.T) {
	assert.Equal(t, DefaultChunkSize, NewWriter(NewMemoryStore(), 0).ChunkSize())
}
