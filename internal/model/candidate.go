package model

import "time"

// SearchCandidate is a listing URL discovered on a search-results page that has
// not been fetched or classified yet.
type SearchCandidate struct {
	URL           string `json:"url"`
	MarketplaceID string `json:"marketplace_id"`
	IsPrivate     bool   `json:"is_private"`
}

// Detail holds the structured fields the extraction service returns for a
// single listing page.
type Detail struct {
	URL             string     `json:"url"`
	MarketplaceID   string     `json:"marketplace_id"`
	Source          string     `json:"source"`
	IsPrivate       bool       `json:"is_private"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Price           float64    `json:"price"`
	Area            float64    `json:"area"`
	PricePerArea    float64    `json:"price_per_area"`
	PriceEvaluation string     `json:"price_evaluation"`
	Location        string     `json:"location"`
	Region          string     `json:"region"`
	Images          []string   `json:"images"`
	Phone           string     `json:"phone"`
	PublishedAt     *time.Time `json:"published_at"`
	LastChangedAt   *time.Time `json:"last_changed_at"`
}

// ToListing converts a detail record into a fresh listing for category.
func (d *Detail) ToListing(category string, now time.Time) *Listing {
	l := &Listing{
		URL:             d.URL,
		MarketplaceID:   d.MarketplaceID,
		Source:          d.Source,
		Category:        category,
		Region:          d.Region,
		Location:        d.Location,
		Price:           d.Price,
		Area:            d.Area,
		PricePerArea:    d.PricePerArea,
		PriceEvaluation: d.PriceEvaluation,
		Title:           d.Title,
		Description:     d.Description,
		Images:          d.Images,
		Phone:           d.Phone,
		PublishedAt:     d.PublishedAt,
		FirstSeenAt:     now,
		LastChangedAt:   now,
	}
	if l.PricePerArea == 0 && l.Price > 0 && l.Area > 0 {
		l.PricePerArea = l.Price / l.Area
	}
	if d.LastChangedAt != nil {
		l.LastChangedAt = *d.LastChangedAt
	}
	return l
}
