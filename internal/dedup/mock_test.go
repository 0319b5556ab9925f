package dedup

import (
	"context"
	"sort"

	"github.com/sells-group/listing-radar/internal/model"
)

// memStore implements Store over an in-memory map for testing.
type memStore struct {
	listings map[int64]*model.Listing
	updates  int
}

func newMemStore(ls ...model.Listing) *memStore {
	m := &memStore{listings: make(map[int64]*model.Listing)}
	for i := range ls {
		l := ls[i]
		m.listings[l.ID] = &l
	}
	return m
}

func (m *memStore) sorted() []*model.Listing {
	out := make([]*model.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) FindDuplicateCandidates(_ context.Context, l *model.Listing) ([]model.Listing, error) {
	var out []model.Listing
	for _, c := range m.sorted() {
		if c.ID == l.ID || c.Excluded || c.Category != l.Category || c.Region != l.Region || c.Source == l.Source {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) ListGroupMembers(_ context.Context, groupID int64) ([]model.Listing, error) {
	var out []model.Listing
	for _, c := range m.sorted() {
		if c.DuplicateGroupID != nil && *c.DuplicateGroupID == groupID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ListUngrouped(_ context.Context, afterID int64, limit int) ([]model.Listing, error) {
	var out []model.Listing
	for _, c := range m.sorted() {
		if c.ID <= afterID || c.Excluded || c.DuplicateGroupID != nil {
			continue
		}
		out = append(out, *c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) GetListing(_ context.Context, id int64) (*model.Listing, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) UpdateDuplicateInfo(_ context.Context, id, groupID int64, isPrimary bool, sources []string) error {
	m.updates++
	l := m.listings[id]
	gid := groupID
	l.DuplicateGroupID = &gid
	l.IsPrimaryListing = isPrimary
	l.DuplicateSources = append([]string(nil), sources...)
	return nil
}
