// Package store persists listings, price history, pagination cursors and geo
// rejections in Postgres or SQLite.
package store

import (
	"context"

	"github.com/sells-group/listing-radar/internal/dedup"
	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/pagination"
	"github.com/sells-group/listing-radar/internal/pricetrack"
)

// ListingStore reads and writes listings. Upserts are keyed by URL; a
// listing is never deleted.
type ListingStore interface {
	// FindByURL returns nil when no listing has url.
	FindByURL(ctx context.Context, url string) (*model.Listing, error)
	// UpsertListing inserts or updates l by URL, keeping first_seen_at,
	// the excluded flag and duplicate linkage of an existing row. It sets
	// and returns l.ID.
	UpsertListing(ctx context.Context, l *model.Listing) (int64, error)
	QueryListings(ctx context.Context, filter model.ListingFilter) ([]model.Listing, error)
}

// RejectionSink records listings the geo filter turned away.
type RejectionSink interface {
	// RecordRejections is idempotent by URL; a later rejection replaces
	// the earlier one.
	RecordRejections(ctx context.Context, rejections []model.GeoRejection) error
}

// Store is the full persistence surface of the discovery engine.
type Store interface {
	ListingStore
	RejectionSink
	dedup.Store
	pagination.CursorStore
	pricetrack.HistoryStore

	// GetState and SetState address the kv_state table directly. Cursor
	// keys live there too, under pagination.CursorKey.
	GetState(ctx context.Context, key string) (*string, error)
	SetState(ctx context.Context, key, value string) error

	ListCursors(ctx context.Context) (map[string]string, error)
	DeleteCursor(ctx context.Context, category string) error
	ListPriceHistory(ctx context.Context, listingID int64) ([]model.PriceHistoryEntry, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
