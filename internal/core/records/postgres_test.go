package records

import (
	"context"
	"os"
	"testing"

	"harvester/internal/platform/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *postgres.Service {
	t.Helper()
	url := os.Getenv("HARVESTER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HARVESTER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	svc, err := postgres.New(ctx, postgres.Options{URL: url, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.Migrate(ctx))
	_, err = svc.Pool().Exec(ctx, `DELETE FROM records WHERE external_id LIKE 'it-%'`)
	require.NoError(t, err)
	return svc
}

func TestPgStore_XmaxDistinguishesInsertFromUpdate(t *testing.T) {
	svc := testPool(t)
	ctx := context.Background()
	store := NewPgStore(svc.Pool())
	w := NewWriter(store, 2)

	before, err := store.Count(ctx)
	require.NoError(t, err)

	v := 125000.0
	_, err = w.Persist(ctx, []Record{{ExternalID: "it-1", AssessedValue: &v}}, "it", nil)
	require.NoError(t, err)

	res, err := w.Persist(ctx, []Record{
		{ExternalID: "it-1", OwnerName: "Updated"},
		{ExternalID: "it-2"},
		{ExternalID: "it-3"},
	}, "it", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	after, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, after-before)

	again, err := w.Persist(ctx, []Record{{ExternalID: "it-2"}, {ExternalID: "it-3"}}, "it", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)

	recent, err := store.Recent(ctx, "it", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
