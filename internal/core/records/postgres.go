package records

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore upserts records with a single set-based statement per chunk.
// xmax is zero only for tuples created by the current statement, which gives an
// atomic per-row inserted/updated flag without a pre-check query.
type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore { return &PgStore{db: db} }

const upsertSQL = `
INSERT INTO records (
    external_id, owner_name, prop_type, city, address,
    assessed_value, appraised_value, geo_id, description, search_term, scraped_at
)
SELECT * FROM unnest(
    $1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
    $6::float8[], $7::float8[], $8::text[], $9::text[], $10::text[], $11::timestamptz[]
)
ON CONFLICT (external_id) DO UPDATE SET
    owner_name      = EXCLUDED.owner_name,
    prop_type       = EXCLUDED.prop_type,
    city            = EXCLUDED.city,
    address         = EXCLUDED.address,
    assessed_value  = EXCLUDED.assessed_value,
    appraised_value = EXCLUDED.appraised_value,
    geo_id          = EXCLUDED.geo_id,
    description     = EXCLUDED.description,
    search_term     = EXCLUDED.search_term,
    scraped_at      = EXCLUDED.scraped_at,
    updated_at      = now()
RETURNING external_id, (xmax = 0) AS inserted`

// UpsertChunk expects recs to carry distinct external IDs.
func (s *PgStore) UpsertChunk(ctx context.Context, recs []Record) ([]bool, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	n := len(recs)
	var (
		ids       = make([]string, n)
		owners    = make([]string, n)
		types     = make([]string, n)
		cities    = make([]string, n)
		addrs     = make([]string, n)
		assessed  = make([]*float64, n)
		appraised = make([]*float64, n)
		geoIDs    = make([]string, n)
		descs     = make([]string, n)
		terms     = make([]string, n)
		scraped   = make([]time.Time, n)
	)
	for i, r := range recs {
		ids[i] = r.ExternalID
		owners[i] = r.OwnerName
		types[i] = r.PropertyType
		cities[i] = r.City
		addrs[i] = r.Address
		assessed[i] = r.AssessedValue
		appraised[i] = r.AppraisedValue
		geoIDs[i] = r.GeoID
		descs[i] = r.Description
		terms[i] = r.SearchTerm
		scraped[i] = r.ScrapedAt
	}

	rows, err := s.db.Query(ctx, upsertSQL, ids, owners, types, cities, addrs, assessed, appraised, geoIDs, descs, terms, scraped)
	if err != nil {
		return nil, fmt.Errorf("upsert records: %w", err)
	}
	defer rows.Close()

	inserted := make(map[string]bool, n)
	for rows.Next() {
		var id string
		var ins bool
		if err := rows.Scan(&id, &ins); err != nil {
			return nil, fmt.Errorf("scan upsert result: %w", err)
		}
		inserted[id] = ins
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upsert records: %w", err)
	}

	flags := make([]bool, n)
	for i, id := range ids {
		ins, ok := inserted[id]
		if !ok {
			return nil, fmt.Errorf("upsert records: no result row for %s", id)
		}
		flags[i] = ins
	}
	return flags, nil
}

func (s *PgStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Recent returns the most recently scraped records, optionally for one term.
func (s *PgStore) Recent(ctx context.Context, term string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
SELECT external_id, owner_name, prop_type, city, address, assessed_value, appraised_value,
       geo_id, description, search_term, scraped_at, created_at, updated_at
FROM records
WHERE $1::text = '' OR search_term = $1
ORDER BY scraped_at DESC
LIMIT $2`, term, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ExternalID, &r.OwnerName, &r.PropertyType, &r.City, &r.Address,
			&r.AssessedValue, &r.AppraisedValue, &r.GeoID, &r.Description, &r.SearchTerm,
			&r.ScrapedAt, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	})
}
