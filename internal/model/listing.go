// Package model defines the listing types shared by the discovery engine.
package model

import "time"

// Price evaluation categories as reported by the marketplace.
const (
	PriceBelowAverage = "unter_schnitt"
	PriceAtAverage    = "im_schnitt"
	PriceAboveAverage = "ueber_schnitt"
)

// Listing is a classified-ad property listing together with the signals the
// discovery engine derives for it.
type Listing struct {
	ID            int64  `json:"id" db:"id"`
	URL           string `json:"url" db:"url"`
	MarketplaceID string `json:"marketplace_id" db:"marketplace_id"`
	Source        string `json:"source" db:"source"`
	Category      string `json:"category" db:"category"`
	Region        string `json:"region" db:"region"`
	Location      string `json:"location" db:"location"`

	Price           float64 `json:"price" db:"price"`
	Area            float64 `json:"area,omitempty" db:"area"`
	PricePerArea    float64 `json:"price_per_area,omitempty" db:"price_per_area"`
	PriceEvaluation string  `json:"price_evaluation,omitempty" db:"price_evaluation"`

	Title       string   `json:"title" db:"title"`
	Description string   `json:"description,omitempty" db:"description"`
	Images      []string `json:"images,omitempty" db:"images"`
	Phone       string   `json:"phone,omitempty" db:"phone"`

	FirstSeenAt   time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastChangedAt time.Time  `json:"last_changed_at" db:"last_changed_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty" db:"published_at"`

	QualityScore            int        `json:"quality_score" db:"quality_score"`
	QualityTier             string     `json:"quality_tier" db:"quality_tier"`
	IsGoldFind              bool       `json:"is_gold_find" db:"is_gold_find"`
	DuplicateGroupID        *int64     `json:"duplicate_group_id,omitempty" db:"duplicate_group_id"`
	IsPrimaryListing        bool       `json:"is_primary_listing" db:"is_primary_listing"`
	DuplicateSources        []string   `json:"duplicate_sources,omitempty" db:"duplicate_sources"`
	LastPriceDrop           float64    `json:"last_price_drop,omitempty" db:"last_price_drop"`
	LastPriceDropPercentage float64    `json:"last_price_drop_percentage,omitempty" db:"last_price_drop_percentage"`
	LastPriceDropAt         *time.Time `json:"last_price_drop_at,omitempty" db:"last_price_drop_at"`
	TotalPriceDrops         int        `json:"total_price_drops" db:"total_price_drops"`
	GeoAllowed              bool       `json:"geo_allowed" db:"geo_allowed"`
	GeoReason               string     `json:"geo_reason,omitempty" db:"geo_reason"`
	Excluded                bool       `json:"excluded" db:"excluded"`
}

// Snapshot returns the commercial fields the price tracker compares.
func (l *Listing) Snapshot() PriceSnapshot {
	return PriceSnapshot{Price: l.Price, Area: l.Area}
}

// ContentChanged reports whether a re-scraped listing differs from the stored
// one in any field a reader of the feed would notice.
func (l *Listing) ContentChanged(other *Listing) bool {
	if l.Price != other.Price || l.Area != other.Area {
		return true
	}
	if l.Title != other.Title || l.Description != other.Description || l.Phone != other.Phone {
		return true
	}
	if len(l.Images) != len(other.Images) {
		return true
	}
	return l.Location != other.Location
}

// PriceSnapshot holds the commercial fields of a listing at one point in time.
type PriceSnapshot struct {
	Price float64 `json:"price"`
	Area  float64 `json:"area"`
}

// PriceHistoryEntry is an append-only record of a detected price change.
type PriceHistoryEntry struct {
	ID               int64     `json:"id" db:"id"`
	ListingID        int64     `json:"listing_id" db:"listing_id"`
	OldPrice         float64   `json:"old_price" db:"old_price"`
	NewPrice         float64   `json:"new_price" db:"new_price"`
	ChangePercentage float64   `json:"change_percentage" db:"change_percentage"`
	OldArea          float64   `json:"old_area,omitempty" db:"old_area"`
	NewArea          float64   `json:"new_area,omitempty" db:"new_area"`
	DetectedAt       time.Time `json:"detected_at" db:"detected_at"`
}

// GeoRejection records a listing diverted by the geo filter.
type GeoRejection struct {
	URL           string    `json:"url" db:"url"`
	MarketplaceID string    `json:"marketplace_id" db:"marketplace_id"`
	Category      string    `json:"category" db:"category"`
	Location      string    `json:"location" db:"location"`
	Region        string    `json:"region" db:"region"`
	Reason        string    `json:"reason" db:"reason"`
	RejectedAt    time.Time `json:"rejected_at" db:"rejected_at"`
}

// ListingFilter narrows a listing query. Zero values mean "no constraint".
type ListingFilter struct {
	Category     string
	Region       string
	MinScore     *int
	GoldOnly     bool
	PrimaryOnly  bool
	IncludeExcl  bool
	ChangedAfter *time.Time
	Limit        int
	Offset       int
}
