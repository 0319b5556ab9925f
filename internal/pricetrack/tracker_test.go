package pricetrack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/scorer"
)

type memHistory struct {
	entries []model.PriceHistoryEntry
	err     error
}

func (m *memHistory) AppendPriceHistory(_ context.Context, e model.PriceHistoryEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memHistory) CountPriceDrops(_ context.Context, id int64) (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.ListingID == id && e.NewPrice > 0 && e.NewPrice < e.OldPrice {
			n++
		}
	}
	return n, nil
}

func TestCompare_TenPercentDrop(t *testing.T) {
	c := Compare(model.PriceSnapshot{Price: 300000}, model.PriceSnapshot{Price: 270000})

	assert.True(t, c.Changed)
	assert.True(t, c.IsDrop)
	assert.Equal(t, -30000.0, c.Absolute)
	assert.Equal(t, -10.0, c.Percentage)
	assert.True(t, c.IsSignificantDrop)
	assert.True(t, c.IsMajorDrop)
	assert.Equal(t, 15, scorer.PriceDropBonus(1, c.Percentage))
}

func TestCompare_Unchanged(t *testing.T) {
	c := Compare(model.PriceSnapshot{Price: 100, Area: 50}, model.PriceSnapshot{Price: 100, Area: 55})
	assert.False(t, c.Changed)
}

func TestCompare_FromZeroPrice(t *testing.T) {
	c := Compare(model.PriceSnapshot{Price: 0}, model.PriceSnapshot{Price: 250000})
	assert.True(t, c.Changed)
	assert.False(t, c.IsDrop)
	assert.Equal(t, 0.0, c.Percentage)
}

func TestCompare_ToZeroPrice(t *testing.T) {
	c := Compare(model.PriceSnapshot{Price: 300000}, model.PriceSnapshot{Price: 0})
	assert.False(t, c.Changed)
	assert.False(t, c.IsDrop)
	assert.False(t, c.IsSignificantDrop)
	assert.Equal(t, 0.0, c.Percentage)
}

func TestTrack_PriceOnRequestIsNotADrop(t *testing.T) {
	h := &memHistory{}
	tr := NewTracker(h)
	l := &model.Listing{ID: 4, Price: 0}

	c, err := tr.Track(context.Background(), l, model.PriceSnapshot{Price: 300000}, time.Now())
	require.NoError(t, err)
	assert.False(t, c.IsDrop)
	assert.Empty(t, h.entries)
	assert.Equal(t, 0, l.TotalPriceDrops)
	assert.Zero(t, l.LastPriceDropPercentage)
	assert.Nil(t, l.LastPriceDropAt)
	assert.Equal(t, 0, scorer.PriceDropBonus(l.TotalPriceDrops, l.LastPriceDropPercentage))
	assert.Equal(t, SeverityNone, ClassifySeller(l.TotalPriceDrops, l.LastPriceDropPercentage))

	// A later price counts as a change, not a drop.
	l.Price = 280000
	c, err = tr.Track(context.Background(), l, model.PriceSnapshot{Price: 0}, time.Now())
	require.NoError(t, err)
	assert.True(t, c.Changed)
	assert.False(t, c.IsDrop)
	assert.Equal(t, 0, l.TotalPriceDrops)
}

func TestTrack_NoopWhenUnchanged(t *testing.T) {
	h := &memHistory{}
	tr := NewTracker(h)
	l := &model.Listing{ID: 1, Price: 200000}

	c, err := tr.Track(context.Background(), l, model.PriceSnapshot{Price: 200000}, time.Now())
	require.NoError(t, err)
	assert.False(t, c.Changed)
	assert.Empty(t, h.entries)
	assert.Equal(t, 0, l.TotalPriceDrops)
}

func TestTrack_DropUpdatesCounters(t *testing.T) {
	h := &memHistory{}
	tr := NewTracker(h)
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	l := &model.Listing{ID: 7, Price: 270000, Area: 80}

	c, err := tr.Track(context.Background(), l, model.PriceSnapshot{Price: 300000, Area: 80}, now)
	require.NoError(t, err)
	assert.True(t, c.IsMajorDrop)

	require.Len(t, h.entries, 1)
	e := h.entries[0]
	assert.Equal(t, int64(7), e.ListingID)
	assert.Equal(t, 300000.0, e.OldPrice)
	assert.Equal(t, 270000.0, e.NewPrice)
	assert.Equal(t, -10.0, e.ChangePercentage)
	assert.Equal(t, now, e.DetectedAt)

	assert.Equal(t, 1, l.TotalPriceDrops)
	assert.Equal(t, 30000.0, l.LastPriceDrop)
	assert.Equal(t, 10.0, l.LastPriceDropPercentage)
	require.NotNil(t, l.LastPriceDropAt)
	assert.Equal(t, now, *l.LastPriceDropAt)
}

func TestTrack_IncreaseRecordedWithoutCounters(t *testing.T) {
	h := &memHistory{}
	tr := NewTracker(h)
	l := &model.Listing{ID: 3, Price: 330000, TotalPriceDrops: 1, LastPriceDropPercentage: 5}

	c, err := tr.Track(context.Background(), l, model.PriceSnapshot{Price: 300000}, time.Now())
	require.NoError(t, err)
	assert.True(t, c.Changed)
	assert.False(t, c.IsDrop)
	assert.Len(t, h.entries, 1)
	assert.Equal(t, 1, l.TotalPriceDrops)
	assert.Equal(t, 5.0, l.LastPriceDropPercentage)
}

func TestTrack_HistoryError(t *testing.T) {
	tr := NewTracker(&memHistory{err: errors.New("disk full")})
	l := &model.Listing{ID: 9, Price: 90}

	_, err := tr.Track(context.Background(), l, model.PriceSnapshot{Price: 100}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pricetrack: append history")
	assert.Equal(t, 0, l.TotalPriceDrops, "counters untouched when history write fails")
}

func TestReconcile(t *testing.T) {
	h := &memHistory{entries: []model.PriceHistoryEntry{
		{ListingID: 5, OldPrice: 100, NewPrice: 90},
		{ListingID: 5, OldPrice: 90, NewPrice: 95},
		{ListingID: 5, OldPrice: 95, NewPrice: 80},
		{ListingID: 5, OldPrice: 80, NewPrice: 0},
		{ListingID: 6, OldPrice: 100, NewPrice: 50},
	}}
	tr := NewTracker(h)
	l := &model.Listing{ID: 5}

	require.NoError(t, tr.Reconcile(context.Background(), l))
	assert.Equal(t, 2, l.TotalPriceDrops)
}

func TestClassifySeller(t *testing.T) {
	tests := []struct {
		drops int
		pct   float64
		want  Severity
	}{
		{0, 0, SeverityNone},
		{1, 3, SeverityNone},
		{1, 5, SeverityLow},
		{1, 9.9, SeverityLow},
		{1, 10, SeverityMedium},
		{1, 14.9, SeverityMedium},
		{2, 1, SeverityMedium},
		{1, 15, SeverityHigh},
		{3, 1, SeverityHigh},
		{1, -12, SeverityMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySeller(tt.drops, tt.pct), "drops=%d pct=%.1f", tt.drops, tt.pct)
	}
	assert.True(t, IsDesperateSeller(2, 0))
	assert.False(t, IsDesperateSeller(0, 20))
}
