package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetailToListing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	changed := now.Add(-48 * time.Hour)
	d := &Detail{
		URL:           "https://example.at/iad/123",
		MarketplaceID: "123",
		Source:        "willhaben",
		Price:         300000,
		Area:          80,
		Location:      "1030 Wien",
		Region:        "wien",
		LastChangedAt: &changed,
	}

	l := d.ToListing("apartment-wien", now)
	assert.Equal(t, "apartment-wien", l.Category)
	assert.Equal(t, now, l.FirstSeenAt)
	assert.Equal(t, changed, l.LastChangedAt)
	assert.InDelta(t, 3750.0, l.PricePerArea, 0.001)
}

func TestDetailToListing_KeepsReportedPricePerArea(t *testing.T) {
	d := &Detail{Price: 200000, Area: 50, PricePerArea: 4100}
	l := d.ToListing("house", time.Now())
	assert.Equal(t, 4100.0, l.PricePerArea)
}

func TestListingContentChanged(t *testing.T) {
	base := Listing{Price: 100, Area: 50, Title: "a", Images: []string{"x"}}

	same := base
	assert.False(t, base.ContentChanged(&same))

	priced := base
	priced.Price = 90
	assert.True(t, base.ContentChanged(&priced))

	images := base
	images.Images = []string{"x", "y"}
	assert.True(t, base.ContentChanged(&images))
}
