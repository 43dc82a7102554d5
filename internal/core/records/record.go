// Package records holds the normalized property record and the chunked,
// conflict-aware writer that persists batches of them.
package records

import (
	"context"
	"time"
)

// Record is one property row, keyed by the source-assigned ExternalID.
type Record struct {
	ExternalID     string    `json:"externalId"`
	OwnerName      string    `json:"ownerName"`
	PropertyType   string    `json:"propertyType"`
	City           string    `json:"city"`
	Address        string    `json:"address"`
	AssessedValue  *float64  `json:"assessedValue,omitempty"`
	AppraisedValue *float64  `json:"appraisedValue,omitempty"`
	GeoID          string    `json:"geoId"`
	Description    string    `json:"description"`
	SearchTerm     string    `json:"searchTerm"`
	ScrapedAt      time.Time `json:"scrapedAt"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Store performs one atomic insert-or-update per chunk. The returned slice is
// aligned with recs and reports, per row, whether the row was newly inserted.
type Store interface {
	UpsertChunk(ctx context.Context, recs []Record) ([]bool, error)
	Count(ctx context.Context) (int64, error)
}
