package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-radar/internal/model"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func listing(id int64, source string, price, area float64, location string, seen time.Time) model.Listing {
	return model.Listing{
		ID:          id,
		URL:         source + "/" + location,
		Source:      source,
		Category:    "land",
		Region:      "wien",
		Price:       price,
		Area:        area,
		Location:    location,
		FirstSeenAt: seen,
	}
}

func TestIsDuplicate(t *testing.T) {
	d := NewDetector(newMemStore(), Config{})
	a := listing(1, "portal-a", 300000, 500, "1030 Wien", t0)

	tests := []struct {
		name string
		b    model.Listing
		want bool
	}{
		{"price within 10%", listing(2, "portal-b", 310000, 510, "Wien, 3. Bezirk", t0), true},
		{"price outside 10%", listing(2, "portal-b", 340000, 500, "1030 Wien", t0), false},
		{"area outside 10%", listing(2, "portal-b", 300000, 600, "1030 Wien", t0), false},
		{"missing area passes", listing(2, "portal-b", 300000, 0, "1030 Wien", t0), true},
		{"same source", listing(2, "portal-a", 300000, 500, "1030 Wien", t0), false},
		{"no price", listing(2, "portal-b", 0, 500, "1030 Wien", t0), false},
		{"location too different", listing(2, "portal-b", 300000, 500, "Graz", t0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := d.IsDuplicate(&a, &tt.b)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsDuplicate_DifferentRegionOrCategory(t *testing.T) {
	d := NewDetector(newMemStore(), Config{})
	a := listing(1, "portal-a", 300000, 500, "1030 Wien", t0)

	b := listing(2, "portal-b", 300000, 500, "1030 Wien", t0)
	b.Region = "niederoesterreich"
	ok, _ := d.IsDuplicate(&a, &b)
	assert.False(t, ok)

	c := listing(3, "portal-b", 300000, 500, "1030 Wien", t0)
	c.Category = "houses"
	ok, _ = d.IsDuplicate(&a, &c)
	assert.False(t, ok)
}

func TestProcess_CrossPortalScenario(t *testing.T) {
	a := listing(1, "portal-a", 300000, 80, "1030 Wien", t0)
	b := listing(2, "portal-b", 310000, 82, "Wien, 3. Bezirk", t0.Add(time.Hour))
	store := newMemStore(a, b)
	d := NewDetector(store, Config{})

	newest, _ := store.GetListing(context.Background(), 2)
	res, err := d.Process(context.Background(), newest)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, int64(1), res.GroupID)
	assert.Equal(t, int64(1), res.PrimaryID)
	assert.Equal(t, []string{"portal-a", "portal-b"}, res.Sources)

	assert.True(t, store.listings[1].IsPrimaryListing)
	assert.False(t, store.listings[2].IsPrimaryListing)
	assert.Equal(t, int64(1), *store.listings[2].DuplicateGroupID)
	assert.Equal(t, []string{"portal-a", "portal-b"}, store.listings[1].DuplicateSources)

	// The passed listing reflects its new group membership.
	assert.Equal(t, int64(1), *newest.DuplicateGroupID)
	assert.False(t, newest.IsPrimaryListing)
}

func TestProcess_NoMatches(t *testing.T) {
	store := newMemStore(listing(1, "portal-a", 300000, 500, "1030 Wien", t0))
	d := NewDetector(store, Config{})

	l, _ := store.GetListing(context.Background(), 1)
	res, err := d.Process(context.Background(), l)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, store.listings[1].DuplicateGroupID)
}

func TestGroup_MergesIntoExistingGroup(t *testing.T) {
	gid := int64(5)
	a := listing(5, "portal-a", 300000, 500, "1030 Wien", t0.Add(2*time.Hour))
	a.DuplicateGroupID = &gid
	a.IsPrimaryListing = true
	a.DuplicateSources = []string{"portal-a", "portal-b"}
	b := listing(6, "portal-b", 305000, 500, "1030 Wien", t0.Add(3*time.Hour))
	b.DuplicateGroupID = &gid
	b.DuplicateSources = []string{"portal-a", "portal-b"}
	// Seen earlier than every group member, with a smaller id.
	c := listing(3, "portal-c", 302000, 505, "Wien 1030", t0)

	store := newMemStore(a, b, c)
	d := NewDetector(store, Config{})

	l, _ := store.GetListing(context.Background(), 3)
	res, err := d.Process(context.Background(), l)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, int64(5), res.GroupID, "existing group id is kept")
	assert.Equal(t, int64(3), res.PrimaryID, "earliest-seen member is primary")
	assert.Equal(t, 3, res.Members)
	for _, id := range []int64{3, 5, 6} {
		assert.Equal(t, int64(5), *store.listings[id].DuplicateGroupID)
		assert.Equal(t, []string{"portal-a", "portal-b", "portal-c"}, store.listings[id].DuplicateSources)
	}
	assert.False(t, store.listings[5].IsPrimaryListing)
	assert.True(t, store.listings[3].IsPrimaryListing)
}

func TestGroup_MergesTwoGroupsKeepingSmallestID(t *testing.T) {
	g1, g2 := int64(2), int64(8)
	a := listing(2, "portal-a", 300000, 500, "1030 Wien", t0)
	a.DuplicateGroupID = &g1
	b := listing(8, "portal-b", 300000, 500, "1030 Wien", t0.Add(time.Hour))
	b.DuplicateGroupID = &g2
	c := listing(9, "portal-c", 300000, 500, "1030 Wien", t0.Add(2*time.Hour))

	store := newMemStore(a, b, c)
	d := NewDetector(store, Config{})

	l, _ := store.GetListing(context.Background(), 9)
	res, err := d.Process(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.GroupID)
	assert.Equal(t, int64(2), *store.listings[8].DuplicateGroupID)
}

func TestProcess_Idempotent(t *testing.T) {
	a := listing(1, "portal-a", 300000, 500, "1030 Wien", t0)
	b := listing(2, "portal-b", 310000, 510, "Wien, 3. Bezirk", t0.Add(time.Hour))
	store := newMemStore(a, b)
	d := NewDetector(store, Config{})
	ctx := context.Background()

	l, _ := store.GetListing(ctx, 2)
	_, err := d.Process(ctx, l)
	require.NoError(t, err)
	writes := store.updates

	l, _ = store.GetListing(ctx, 2)
	res, err := d.Process(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.GroupID)
	assert.Equal(t, writes, store.updates, "second run writes nothing")
}

func TestGroup_RequiresID(t *testing.T) {
	d := NewDetector(newMemStore(), Config{})
	l := listing(0, "portal-a", 1, 1, "x", t0)
	_, err := d.Group(context.Background(), &l, []Match{{Listing: listing(1, "portal-b", 1, 1, "x", t0)}})
	assert.Error(t, err)
}
