package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-radar/internal/model"
)

const listingColumns = `id, url, marketplace_id, source, category, region, location,
	price, area, price_per_area, price_evaluation,
	title, description, images, phone,
	first_seen_at, last_changed_at, published_at,
	quality_score, quality_tier, is_gold_find,
	duplicate_group_id, is_primary_listing, duplicate_sources,
	last_price_drop, last_price_drop_percentage, last_price_drop_at, total_price_drops,
	geo_allowed, geo_reason, excluded`

// upsertColumns are written by UpsertListing, in placeholder order.
var upsertColumns = []string{
	"url", "marketplace_id", "source", "category", "region", "location",
	"price", "area", "price_per_area", "price_evaluation",
	"title", "description", "images", "phone",
	"first_seen_at", "last_changed_at", "published_at",
	"quality_score", "quality_tier", "is_gold_find",
	"last_price_drop", "last_price_drop_percentage", "last_price_drop_at", "total_price_drops",
	"geo_allowed", "geo_reason",
}

// preservedOnConflict keep their stored value when a listing is re-upserted.
var preservedOnConflict = map[string]bool{
	"url":           true,
	"first_seen_at": true,
}

// upsertListingSQL renders the INSERT ... ON CONFLICT (url) statement using
// placeholder(i) for the i-th (1-based) argument.
func upsertListingSQL(placeholder func(i int) string) string {
	ph := make([]string, len(upsertColumns))
	var set []string
	for i, c := range upsertColumns {
		ph[i] = placeholder(i + 1)
		if !preservedOnConflict[c] {
			set = append(set, c+" = excluded."+c)
		}
	}
	return "INSERT INTO listings (" + strings.Join(upsertColumns, ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ") ON CONFLICT (url) DO UPDATE SET " +
		strings.Join(set, ", ") + " RETURNING id"
}

func upsertArgs(l *model.Listing) ([]any, error) {
	images, err := encodeStrings(l.Images)
	if err != nil {
		return nil, err
	}
	return []any{
		l.URL, l.MarketplaceID, l.Source, l.Category, l.Region, l.Location,
		l.Price, l.Area, l.PricePerArea, l.PriceEvaluation,
		l.Title, l.Description, images, l.Phone,
		l.FirstSeenAt.UTC(), l.LastChangedAt.UTC(), utcPtr(l.PublishedAt),
		l.QualityScore, l.QualityTier, l.IsGoldFind,
		l.LastPriceDrop, l.LastPriceDropPercentage, utcPtr(l.LastPriceDropAt), l.TotalPriceDrops,
		l.GeoAllowed, l.GeoReason,
	}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*model.Listing, error) {
	var (
		l                     model.Listing
		images, sources       []byte
		published, dropAt     sql.NullTime
		groupID               sql.NullInt64
		evaluation, geoReason sql.NullString
	)
	err := row.Scan(
		&l.ID, &l.URL, &l.MarketplaceID, &l.Source, &l.Category, &l.Region, &l.Location,
		&l.Price, &l.Area, &l.PricePerArea, &evaluation,
		&l.Title, &l.Description, &images, &l.Phone,
		&l.FirstSeenAt, &l.LastChangedAt, &published,
		&l.QualityScore, &l.QualityTier, &l.IsGoldFind,
		&groupID, &l.IsPrimaryListing, &sources,
		&l.LastPriceDrop, &l.LastPriceDropPercentage, &dropAt, &l.TotalPriceDrops,
		&l.GeoAllowed, &geoReason, &l.Excluded,
	)
	if err != nil {
		return nil, err
	}

	l.PriceEvaluation = evaluation.String
	l.GeoReason = geoReason.String
	if published.Valid {
		t := published.Time
		l.PublishedAt = &t
	}
	if dropAt.Valid {
		t := dropAt.Time
		l.LastPriceDropAt = &t
	}
	if groupID.Valid {
		g := groupID.Int64
		l.DuplicateGroupID = &g
	}
	if l.Images, err = decodeStrings(images); err != nil {
		return nil, eris.Wrap(err, "store: decode images")
	}
	if l.DuplicateSources, err = decodeStrings(sources); err != nil {
		return nil, eris.Wrap(err, "store: decode duplicate sources")
	}
	return &l, nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: encode string list")
	}
	return string(b), nil
}

func decodeStrings(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// filterClause builds the WHERE/ORDER/LIMIT tail of a listing query.
func filterClause(f model.ListingFilter, placeholder func(i int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", placeholder(len(args))))
	}

	if !f.IncludeExcl {
		where = append(where, "excluded = false")
	}
	if f.Category != "" {
		add("category = ?", f.Category)
	}
	if f.Region != "" {
		add("region = ?", f.Region)
	}
	if f.MinScore != nil {
		add("quality_score >= ?", *f.MinScore)
	}
	if f.GoldOnly {
		where = append(where, "is_gold_find = true")
	}
	if f.PrimaryOnly {
		where = append(where, "(duplicate_group_id IS NULL OR is_primary_listing = true)")
	}
	if f.ChangedAfter != nil {
		add("last_changed_at > ?", f.ChangedAfter.UTC())
	}

	q := ""
	if len(where) > 0 {
		q = " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY quality_score DESC, id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	q += " LIMIT " + placeholder(len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += " OFFSET " + placeholder(len(args))
	}
	return q, args
}
