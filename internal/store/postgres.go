package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-radar/internal/db"
	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/pagination"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool sizing.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects a pool to connString and pings it.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 8
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                         BIGSERIAL PRIMARY KEY,
	url                        TEXT NOT NULL UNIQUE,
	marketplace_id             TEXT NOT NULL DEFAULT '',
	source                     TEXT NOT NULL,
	category                   TEXT NOT NULL,
	region                     TEXT NOT NULL DEFAULT '',
	location                   TEXT NOT NULL DEFAULT '',
	price                      DOUBLE PRECISION NOT NULL DEFAULT 0,
	area                       DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_per_area             DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_evaluation           TEXT,
	title                      TEXT NOT NULL DEFAULT '',
	description                TEXT NOT NULL DEFAULT '',
	images                     JSONB NOT NULL DEFAULT '[]',
	phone                      TEXT NOT NULL DEFAULT '',
	first_seen_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_changed_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at               TIMESTAMPTZ,
	quality_score              INTEGER NOT NULL DEFAULT 0,
	quality_tier               TEXT NOT NULL DEFAULT 'low',
	is_gold_find               BOOLEAN NOT NULL DEFAULT false,
	duplicate_group_id         BIGINT,
	is_primary_listing         BOOLEAN NOT NULL DEFAULT false,
	duplicate_sources          JSONB NOT NULL DEFAULT '[]',
	last_price_drop            DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_price_drop_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_price_drop_at         TIMESTAMPTZ,
	total_price_drops          INTEGER NOT NULL DEFAULT 0,
	geo_allowed                BOOLEAN NOT NULL DEFAULT true,
	geo_reason                 TEXT,
	excluded                   BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_listings_dedup ON listings(category, region, source) WHERE NOT excluded;
CREATE INDEX IF NOT EXISTS idx_listings_group ON listings(duplicate_group_id);
CREATE INDEX IF NOT EXISTS idx_listings_score ON listings(quality_score DESC);

CREATE TABLE IF NOT EXISTS price_history (
	id                BIGSERIAL PRIMARY KEY,
	listing_id        BIGINT NOT NULL REFERENCES listings(id),
	old_price         DOUBLE PRECISION NOT NULL,
	new_price         DOUBLE PRECISION NOT NULL,
	change_percentage DOUBLE PRECISION NOT NULL,
	old_area          DOUBLE PRECISION NOT NULL DEFAULT 0,
	new_area          DOUBLE PRECISION NOT NULL DEFAULT 0,
	detected_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id, detected_at);

CREATE TABLE IF NOT EXISTS kv_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geo_rejections (
	url            TEXT PRIMARY KEY,
	marketplace_id TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	region         TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL,
	rejected_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func pgPlaceholder(i int) string { return "$" + strconv.Itoa(i) }

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- listings ---

func (s *PostgresStore) FindByURL(ctx context.Context, url string) (*model.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE url = $1`, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, eris.Wrapf(err, "postgres: find listing %s", url)
}

func (s *PostgresStore) GetListing(ctx context.Context, id int64) (*model.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, eris.Wrapf(err, "postgres: get listing %d", id)
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l *model.Listing) (int64, error) {
	args, err := upsertArgs(l)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.pool.QueryRow(ctx, upsertListingSQL(pgPlaceholder), args...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert listing %s", l.URL)
	}
	l.ID = id
	return id, nil
}

func (s *PostgresStore) QueryListings(ctx context.Context, f model.ListingFilter) ([]model.Listing, error) {
	tail, args := filterClause(f, pgPlaceholder)
	return s.queryListings(ctx, "postgres: query listings", `SELECT `+listingColumns+` FROM listings`+tail, args...)
}

func (s *PostgresStore) queryListings(ctx context.Context, op, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

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

func (s *PostgresStore) FindDuplicateCandidates(ctx context.Context, l *model.Listing) ([]model.Listing, error) {
	return s.queryListings(ctx, "postgres: find duplicate candidates",
		`SELECT `+listingColumns+` FROM listings
		 WHERE category = $1 AND region = $2 AND source <> $3 AND id <> $4
		   AND NOT excluded AND price > 0
		 ORDER BY id`,
		l.Category, l.Region, l.Source, l.ID,
	)
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID int64) ([]model.Listing, error) {
	return s.queryListings(ctx, "postgres: list group members",
		`SELECT `+listingColumns+` FROM listings WHERE duplicate_group_id = $1 ORDER BY id`, groupID)
}

func (s *PostgresStore) ListUngrouped(ctx context.Context, afterID int64, limit int) ([]model.Listing, error) {
	return s.queryListings(ctx, "postgres: list ungrouped",
		`SELECT `+listingColumns+` FROM listings
		 WHERE duplicate_group_id IS NULL AND NOT excluded AND id > $1
		 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
}

func (s *PostgresStore) UpdateDuplicateInfo(ctx context.Context, id, groupID int64, isPrimary bool, sources []string) error {
	enc, err := encodeStrings(sources)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET duplicate_group_id = $1, is_primary_listing = $2, duplicate_sources = $3 WHERE id = $4`,
		groupID, isPrimary, enc, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update duplicate info %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: listing not found: %d", id)
	}
	return nil
}

// --- key/value state ---

// GetState returns nil when key is unset.
func (s *PostgresStore) GetState(ctx context.Context, key string) (*string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_state WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get state %s", key)
	}
	return &v, nil
}

func (s *PostgresStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_state (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set state %s", key)
}

func (s *PostgresStore) GetCursor(ctx context.Context, category string) (*string, error) {
	return s.GetState(ctx, pagination.CursorKey(category))
}

func (s *PostgresStore) SetCursor(ctx context.Context, category, id string) error {
	return s.SetState(ctx, pagination.CursorKey(category), id)
}

func (s *PostgresStore) DeleteCursor(ctx context.Context, category string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_state WHERE key = $1`, pagination.CursorKey(category))
	return eris.Wrapf(err, "postgres: delete cursor %s", category)
}

func (s *PostgresStore) ListCursors(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM kv_state WHERE key LIKE 'discovery-cursor-%' ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cursors")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cursor")
		}
		out[categoryFromKey(k)] = v
	}
	return out, eris.Wrap(rows.Err(), "postgres: list cursors iterate")
}

// --- price history ---

func (s *PostgresStore) AppendPriceHistory(ctx context.Context, e model.PriceHistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (listing_id, old_price, new_price, change_percentage, old_area, new_area, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ListingID, e.OldPrice, e.NewPrice, e.ChangePercentage, e.OldArea, e.NewArea, e.DetectedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: append price history %d", e.ListingID)
}

func (s *PostgresStore) CountPriceDrops(ctx context.Context, listingID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM price_history WHERE listing_id = $1 AND new_price > 0 AND new_price < old_price`, listingID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count price drops %d", listingID)
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, listingID int64) ([]model.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, listing_id, old_price, new_price, change_percentage, old_area, new_area, detected_at
		 FROM price_history WHERE listing_id = $1 ORDER BY detected_at, id`, listingID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list price history %d", listingID)
	}
	defer rows.Close()

	var out []model.PriceHistoryEntry
	for rows.Next() {
		var e model.PriceHistoryEntry
		if err := rows.Scan(&e.ID, &e.ListingID, &e.OldPrice, &e.NewPrice, &e.ChangePercentage, &e.OldArea, &e.NewArea, &e.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price history")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list price history iterate")
}

// --- geo rejections ---

var rejectionUpsert = db.UpsertSpec{
	Table:        "geo_rejections",
	Columns:      []string{"url", "marketplace_id", "category", "location", "region", "reason", "rejected_at"},
	ConflictKeys: []string{"url"},
}

func (s *PostgresStore) RecordRejections(ctx context.Context, rejections []model.GeoRejection) error {
	rows := make([][]any, 0, len(rejections))
	seen := make(map[string]int, len(rejections))
	for _, r := range rejections {
		row := []any{r.URL, r.MarketplaceID, r.Category, r.Location, r.Region, r.Reason, r.RejectedAt.UTC()}
		// ON CONFLICT cannot touch the same row twice in one statement.
		if i, ok := seen[r.URL]; ok {
			rows[i] = row
			continue
		}
		seen[r.URL] = len(rows)
		rows = append(rows, row)
	}
	_, err := db.BulkUpsert(ctx, s.pool, rejectionUpsert, rows)
	return eris.Wrap(err, "postgres: record geo rejections")
}
