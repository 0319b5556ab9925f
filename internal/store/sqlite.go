package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/pagination"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer avoids SQLITE_BUSY between the scheduler and the CLI.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                         INTEGER PRIMARY KEY AUTOINCREMENT,
	url                        TEXT NOT NULL UNIQUE,
	marketplace_id             TEXT NOT NULL DEFAULT '',
	source                     TEXT NOT NULL,
	category                   TEXT NOT NULL,
	region                     TEXT NOT NULL DEFAULT '',
	location                   TEXT NOT NULL DEFAULT '',
	price                      REAL NOT NULL DEFAULT 0,
	area                       REAL NOT NULL DEFAULT 0,
	price_per_area             REAL NOT NULL DEFAULT 0,
	price_evaluation           TEXT,
	title                      TEXT NOT NULL DEFAULT '',
	description                TEXT NOT NULL DEFAULT '',
	images                     TEXT NOT NULL DEFAULT '[]',
	phone                      TEXT NOT NULL DEFAULT '',
	first_seen_at              DATETIME NOT NULL,
	last_changed_at            DATETIME NOT NULL,
	published_at               DATETIME,
	quality_score              INTEGER NOT NULL DEFAULT 0,
	quality_tier               TEXT NOT NULL DEFAULT 'low',
	is_gold_find               BOOLEAN NOT NULL DEFAULT 0,
	duplicate_group_id         INTEGER,
	is_primary_listing         BOOLEAN NOT NULL DEFAULT 0,
	duplicate_sources          TEXT NOT NULL DEFAULT '[]',
	last_price_drop            REAL NOT NULL DEFAULT 0,
	last_price_drop_percentage REAL NOT NULL DEFAULT 0,
	last_price_drop_at         DATETIME,
	total_price_drops          INTEGER NOT NULL DEFAULT 0,
	geo_allowed                BOOLEAN NOT NULL DEFAULT 1,
	geo_reason                 TEXT,
	excluded                   BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_listings_dedup ON listings(category, region, source);
CREATE INDEX IF NOT EXISTS idx_listings_group ON listings(duplicate_group_id);
CREATE INDEX IF NOT EXISTS idx_listings_score ON listings(quality_score DESC);

CREATE TABLE IF NOT EXISTS price_history (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id        INTEGER NOT NULL REFERENCES listings(id),
	old_price         REAL NOT NULL,
	new_price         REAL NOT NULL,
	change_percentage REAL NOT NULL,
	old_area          REAL NOT NULL DEFAULT 0,
	new_area          REAL NOT NULL DEFAULT 0,
	detected_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id, detected_at);

CREATE TABLE IF NOT EXISTS kv_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS geo_rejections (
	url            TEXT PRIMARY KEY,
	marketplace_id TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	region         TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL,
	rejected_at    DATETIME NOT NULL
);
`

func sqlitePlaceholder(int) string { return "?" }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- listings ---

func (s *SQLiteStore) FindByURL(ctx context.Context, url string) (*model.Listing, error) {
	l, err := scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, eris.Wrapf(err, "sqlite: find listing %s", url)
}

func (s *SQLiteStore) GetListing(ctx context.Context, id int64) (*model.Listing, error) {
	l, err := scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, eris.Wrapf(err, "sqlite: get listing %d", id)
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *model.Listing) (int64, error) {
	args, err := upsertArgs(l)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, upsertListingSQL(sqlitePlaceholder), args...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert listing %s", l.URL)
	}
	l.ID = id
	return id, nil
}

func (s *SQLiteStore) QueryListings(ctx context.Context, f model.ListingFilter) ([]model.Listing, error) {
	tail, args := filterClause(f, sqlitePlaceholder)
	return s.queryListings(ctx, "sqlite: query listings", `SELECT `+listingColumns+` FROM listings`+tail, args...)
}

func (s *SQLiteStore) queryListings(ctx context.Context, op, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), op+": iterate")
}

// --- duplicate detection ---

func (s *SQLiteStore) FindDuplicateCandidates(ctx context.Context, l *model.Listing) ([]model.Listing, error) {
	return s.queryListings(ctx, "sqlite: find duplicate candidates",
		`SELECT `+listingColumns+` FROM listings
		 WHERE category = ? AND region = ? AND source <> ? AND id <> ?
		   AND excluded = 0 AND price > 0
		 ORDER BY id`,
		l.Category, l.Region, l.Source, l.ID,
	)
}

func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID int64) ([]model.Listing, error) {
	return s.queryListings(ctx, "sqlite: list group members",
		`SELECT `+listingColumns+` FROM listings WHERE duplicate_group_id = ? ORDER BY id`, groupID)
}

func (s *SQLiteStore) ListUngrouped(ctx context.Context, afterID int64, limit int) ([]model.Listing, error) {
	return s.queryListings(ctx, "sqlite: list ungrouped",
		`SELECT `+listingColumns+` FROM listings
		 WHERE duplicate_group_id IS NULL AND excluded = 0 AND id > ?
		 ORDER BY id LIMIT ?`,
		afterID, limit,
	)
}

func (s *SQLiteStore) UpdateDuplicateInfo(ctx context.Context, id, groupID int64, isPrimary bool, sources []string) error {
	enc, err := encodeStrings(sources)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET duplicate_group_id = ?, is_primary_listing = ?, duplicate_sources = ? WHERE id = ?`,
		groupID, isPrimary, enc, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update duplicate info %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: listing not found: %d", id)
	}
	return nil
}

// --- key/value state ---

// GetState returns nil when key is unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (*string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get state %s", key)
	}
	return &v, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set state %s", key)
}

func (s *SQLiteStore) GetCursor(ctx context.Context, category string) (*string, error) {
	return s.GetState(ctx, pagination.CursorKey(category))
}

func (s *SQLiteStore) SetCursor(ctx context.Context, category, id string) error {
	return s.SetState(ctx, pagination.CursorKey(category), id)
}

func (s *SQLiteStore) DeleteCursor(ctx context.Context, category string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_state WHERE key = ?`, pagination.CursorKey(category))
	return eris.Wrapf(err, "sqlite: delete cursor %s", category)
}

func (s *SQLiteStore) ListCursors(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv_state WHERE key LIKE 'discovery-cursor-%' ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cursors")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cursor")
		}
		out[categoryFromKey(k)] = v
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list cursors iterate")
}

// --- price history ---

func (s *SQLiteStore) AppendPriceHistory(ctx context.Context, e model.PriceHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (listing_id, old_price, new_price, change_percentage, old_area, new_area, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ListingID, e.OldPrice, e.NewPrice, e.ChangePercentage, e.OldArea, e.NewArea, e.DetectedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append price history %d", e.ListingID)
}

func (s *SQLiteStore) CountPriceDrops(ctx context.Context, listingID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM price_history WHERE listing_id = ? AND new_price > 0 AND new_price < old_price`, listingID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count price drops %d", listingID)
}

func (s *SQLiteStore) ListPriceHistory(ctx context.Context, listingID int64) ([]model.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, listing_id, old_price, new_price, change_percentage, old_area, new_area, detected_at
		 FROM price_history WHERE listing_id = ? ORDER BY detected_at, id`, listingID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list price history %d", listingID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PriceHistoryEntry
	for rows.Next() {
		var e model.PriceHistoryEntry
		if err := rows.Scan(&e.ID, &e.ListingID, &e.OldPrice, &e.NewPrice, &e.ChangePercentage, &e.OldArea, &e.NewArea, &e.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price history")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list price history iterate")
}

// --- geo rejections ---

func (s *SQLiteStore) RecordRejections(ctx context.Context, rejections []model.GeoRejection) error {
	if len(rejections) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin geo rejections")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geo_rejections (url, marketplace_id, category, location, region, reason, rejected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET marketplace_id = excluded.marketplace_id, category = excluded.category,
		   location = excluded.location, region = excluded.region, reason = excluded.reason,
		   rejected_at = excluded.rejected_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare geo rejection")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rejections {
		if _, err := stmt.ExecContext(ctx, r.URL, r.MarketplaceID, r.Category, r.Location, r.Region, r.Reason, r.RejectedAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: record geo rejection %s", r.URL)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit geo rejections")
}

// CountRejections returns the number of recorded geo rejections.
func (s *SQLiteStore) CountRejections(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM geo_rejections`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count geo rejections")
}

func categoryFromKey(key string) string {
	return strings.TrimPrefix(key, pagination.CursorKey(""))
}
