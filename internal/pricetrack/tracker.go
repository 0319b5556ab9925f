// Package pricetrack detects price changes between two snapshots of the same
// listing and keeps the listing's price-drop counters current.
package pricetrack

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/model"
)

// Drop thresholds in percent.
const (
	SignificantDropPct = 5.0
	MajorDropPct       = 10.0
	SevereDropPct      = 15.0
)

// HistoryStore persists price history entries.
type HistoryStore interface {
	AppendPriceHistory(ctx context.Context, entry model.PriceHistoryEntry) error
	CountPriceDrops(ctx context.Context, listingID int64) (int, error)
}

// Change describes the difference between two snapshots.
type Change struct {
	Changed           bool    `json:"changed"`
	OldPrice          float64 `json:"old_price"`
	NewPrice          float64 `json:"new_price"`
	Absolute          float64 `json:"absolute"`
	Percentage        float64 `json:"percentage"`
	IsDrop            bool    `json:"is_drop"`
	IsSignificantDrop bool    `json:"is_significant_drop"`
	IsMajorDrop       bool    `json:"is_major_drop"`
}

// Compare computes the change from old to cur without side effects. Only
// the price determines whether the listing changed; area is carried along in
// the history entry. A current price of zero means price on request and is
// not comparable.
func Compare(old, cur model.PriceSnapshot) Change {
	c := Change{OldPrice: old.Price, NewPrice: cur.Price}
	if old.Price == cur.Price || cur.Price <= 0 {
		return c
	}
	c.Changed = true
	c.Absolute = cur.Price - old.Price
	if old.Price != 0 {
		c.Percentage = round2(c.Absolute / old.Price * 100)
	}
	if c.Absolute < 0 {
		c.IsDrop = true
		drop := math.Abs(c.Percentage)
		c.IsSignificantDrop = drop >= SignificantDropPct
		c.IsMajorDrop = drop >= MajorDropPct
	}
	return c
}

// Tracker records price changes.
type Tracker struct {
	history HistoryStore
}

// NewTracker creates a Tracker backed by history.
func NewTracker(history HistoryStore) *Tracker {
	return &Tracker{history: history}
}

// Track compares old with the listing's current commercial fields, appends a
// history entry when the price changed and updates the drop counters on a
// decrease. The listing must already have a store id.
func (t *Tracker) Track(ctx context.Context, l *model.Listing, old model.PriceSnapshot, now time.Time) (Change, error) {
	current := l.Snapshot()
	c := Compare(old, current)
	if !c.Changed {
		return c, nil
	}

	entry := model.PriceHistoryEntry{
		ListingID:        l.ID,
		OldPrice:         old.Price,
		NewPrice:         current.Price,
		ChangePercentage: c.Percentage,
		OldArea:          old.Area,
		NewArea:          current.Area,
		DetectedAt:       now,
	}
	if err := t.history.AppendPriceHistory(ctx, entry); err != nil {
		return c, eris.Wrapf(err, "pricetrack: append history for listing %d", l.ID)
	}

	if !c.IsDrop {
		zap.L().Debug("pricetrack: price increase recorded",
			zap.Int64("listing_id", l.ID),
			zap.Float64("percentage", c.Percentage),
		)
		return c, nil
	}

	l.TotalPriceDrops++
	l.LastPriceDrop = math.Abs(c.Absolute)
	l.LastPriceDropPercentage = math.Abs(c.Percentage)
	at := now
	l.LastPriceDropAt = &at

	zap.L().Info("pricetrack: price drop detected",
		zap.Int64("listing_id", l.ID),
		zap.String("url", l.URL),
		zap.Float64("old_price", old.Price),
		zap.Float64("new_price", current.Price),
		zap.Float64("percentage", c.Percentage),
		zap.Int("total_drops", l.TotalPriceDrops),
	)
	return c, nil
}

// Reconcile sets the listing's drop counter from the history store. Used when
// a listing is re-read after its counters may have drifted.
func (t *Tracker) Reconcile(ctx context.Context, l *model.Listing) error {
	n, err := t.history.CountPriceDrops(ctx, l.ID)
	if err != nil {
		return eris.Wrapf(err, "pricetrack: count drops for listing %d", l.ID)
	}
	l.TotalPriceDrops = n
	return nil
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
