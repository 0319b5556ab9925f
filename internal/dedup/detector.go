// Package dedup links listings that describe the same property on different
// source portals into duplicate groups.
package dedup

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/model"
)

// Store is the listing access the detector needs.
type Store interface {
	// FindDuplicateCandidates returns non-excluded listings in the same
	// category and region as l from a different source portal.
	FindDuplicateCandidates(ctx context.Context, l *model.Listing) ([]model.Listing, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]model.Listing, error)
	// ListUngrouped returns non-excluded listings without a group and with
	// an id greater than afterID, ordered by id.
	ListUngrouped(ctx context.Context, afterID int64, limit int) ([]model.Listing, error)
	GetListing(ctx context.Context, id int64) (*model.Listing, error)
	UpdateDuplicateInfo(ctx context.Context, id, groupID int64, isPrimary bool, sources []string) error
}

// Config holds the matching thresholds.
type Config struct {
	PriceTolerance        float64
	AreaTolerance         float64
	MinLocationSimilarity float64
}

// DefaultConfig returns the standard thresholds: 10% on price and area and a
// location similarity of at least 0.7.
func DefaultConfig() Config {
	return Config{
		PriceTolerance:        0.10,
		AreaTolerance:         0.10,
		MinLocationSimilarity: 0.7,
	}
}

// Match is a listing judged to describe the same property.
type Match struct {
	Listing    model.Listing
	Similarity float64
}

// GroupResult describes the group a listing ended up in.
type GroupResult struct {
	GroupID   int64
	PrimaryID int64
	Members   int
	Sources   []string
}

// Detector finds and groups duplicates.
type Detector struct {
	store Store
	cfg   Config
}

// NewDetector creates a Detector. Zero config fields take defaults.
func NewDetector(store Store, cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.PriceTolerance <= 0 {
		cfg.PriceTolerance = def.PriceTolerance
	}
	if cfg.AreaTolerance <= 0 {
		cfg.AreaTolerance = def.AreaTolerance
	}
	if cfg.MinLocationSimilarity <= 0 {
		cfg.MinLocationSimilarity = def.MinLocationSimilarity
	}
	return &Detector{store: store, cfg: cfg}
}

// IsDuplicate applies the matching predicate to a pair of listings and
// returns the location similarity it computed.
func (d *Detector) IsDuplicate(a, b *model.Listing) (bool, float64) {
	if a.Category != b.Category || a.Region != b.Region || a.Source == b.Source {
		return false, 0
	}
	if a.Excluded || b.Excluded {
		return false, 0
	}
	// "Price on request" listings carry no comparable price.
	if a.Price <= 0 || b.Price <= 0 {
		return false, 0
	}
	if !withinTolerance(a.Price, b.Price, d.cfg.PriceTolerance) {
		return false, 0
	}
	if a.Area > 0 && b.Area > 0 && !withinTolerance(a.Area, b.Area, d.cfg.AreaTolerance) {
		return false, 0
	}
	sim := LocationSimilarity(a.Location, b.Location)
	return sim >= d.cfg.MinLocationSimilarity, sim
}

// FindMatches returns the stored listings that duplicate l.
func (d *Detector) FindMatches(ctx context.Context, l *model.Listing) ([]Match, error) {
	candidates, err := d.store.FindDuplicateCandidates(ctx, l)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: find candidates for %s", l.URL)
	}

	var matches []Match
	for i := range candidates {
		c := candidates[i]
		if c.ID == l.ID && l.ID != 0 {
			continue
		}
		if ok, sim := d.IsDuplicate(l, &c); ok {
			matches = append(matches, Match{Listing: c, Similarity: sim})
		}
	}
	return matches, nil
}

// Group merges l and its matches into one duplicate group. When any member
// already belongs to a group the smallest existing group id wins; otherwise
// the smallest member id becomes the group id. The earliest-seen member is
// the primary, and every member's sources list is recomputed. l must have a
// store id.
func (d *Detector) Group(ctx context.Context, l *model.Listing, matches []Match) (*GroupResult, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	if l.ID == 0 {
		return nil, eris.New("dedup: group listing without id")
	}

	members := map[int64]model.Listing{l.ID: *l}
	for _, m := range matches {
		members[m.Listing.ID] = m.Listing
	}

	existing := map[int64]struct{}{}
	for _, m := range members {
		if m.DuplicateGroupID != nil {
			existing[*m.DuplicateGroupID] = struct{}{}
		}
	}
	for gid := range existing {
		groupMembers, err := d.store.ListGroupMembers(ctx, gid)
		if err != nil {
			return nil, eris.Wrapf(err, "dedup: list members of group %d", gid)
		}
		for _, gm := range groupMembers {
			if _, ok := members[gm.ID]; !ok {
				members[gm.ID] = gm
			}
		}
	}

	groupID := int64(math.MaxInt64)
	if len(existing) > 0 {
		for gid := range existing {
			groupID = min(groupID, gid)
		}
	} else {
		for id := range members {
			groupID = min(groupID, id)
		}
	}

	ordered := make([]model.Listing, 0, len(members))
	for _, m := range members {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].FirstSeenAt.Equal(ordered[j].FirstSeenAt) {
			return ordered[i].FirstSeenAt.Before(ordered[j].FirstSeenAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	sources := distinctSources(ordered)
	primaryID := ordered[0].ID

	for _, m := range ordered {
		isPrimary := m.ID == primaryID
		if unchanged(m, groupID, isPrimary, sources) {
			continue
		}
		if err := d.store.UpdateDuplicateInfo(ctx, m.ID, groupID, isPrimary, sources); err != nil {
			return nil, eris.Wrapf(err, "dedup: update listing %d", m.ID)
		}
	}

	gid := groupID
	l.DuplicateGroupID = &gid
	l.IsPrimaryListing = l.ID == primaryID
	l.DuplicateSources = sources

	zap.L().Debug("dedup: grouped listings",
		zap.Int64("group_id", groupID),
		zap.Int64("primary_id", primaryID),
		zap.Int("members", len(ordered)),
		zap.Strings("sources", sources),
	)

	return &GroupResult{
		GroupID:   groupID,
		PrimaryID: primaryID,
		Members:   len(ordered),
		Sources:   sources,
	}, nil
}

// Process finds and groups the duplicates of a stored listing.
func (d *Detector) Process(ctx context.Context, l *model.Listing) (*GroupResult, error) {
	matches, err := d.FindMatches(ctx, l)
	if err != nil {
		return nil, err
	}
	return d.Group(ctx, l, matches)
}

func withinTolerance(a, b, tol float64) bool {
	hi := math.Max(a, b)
	if hi == 0 {
		return true
	}
	return math.Abs(a-b)/hi <= tol
}

func distinctSources(members []model.Listing) []string {
	seen := make(map[string]struct{}, len(members))
	var out []string
	for _, m := range members {
		if m.Source == "" {
			continue
		}
		if _, ok := seen[m.Source]; ok {
			continue
		}
		seen[m.Source] = struct{}{}
		out = append(out, m.Source)
	}
	sort.Strings(out)
	return out
}

func unchanged(m model.Listing, groupID int64, isPrimary bool, sources []string) bool {
	if m.DuplicateGroupID == nil || *m.DuplicateGroupID != groupID || m.IsPrimaryListing != isPrimary {
		return false
	}
	if len(m.DuplicateSources) != len(sources) {
		return false
	}
	for i := range sources {
		if m.DuplicateSources[i] != sources[i] {
			return false
		}
	}
	return true
}
