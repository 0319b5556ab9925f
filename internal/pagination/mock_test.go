package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sells-group/listing-radar/internal/model"
)

// fakeOracle serves canned pages. Pages listed in failures fail that many
// times before succeeding.
type fakeOracle struct {
	mu       sync.Mutex
	pages    map[string][][]model.SearchCandidate
	failures map[int]int
	requests []int
}

func (f *fakeOracle) FetchSearchPage(_ context.Context, category string, page int) ([]model.SearchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, page)
	if f.failures[page] > 0 {
		f.failures[page]--
		return nil, fmt.Errorf("page %d: %w", page, errors.New("upstream 503"))
	}
	pages := f.pages[category]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

type memCursors struct {
	ids    map[string]string
	setErr error
	writes int
}

func newMemCursors() *memCursors { return &memCursors{ids: map[string]string{}} }

func (m *memCursors) GetCursor(_ context.Context, category string) (*string, error) {
	id, ok := m.ids[category]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *memCursors) SetCursor(_ context.Context, category, id string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.writes++
	m.ids[category] = id
	return nil
}

func private(ids ...string) []model.SearchCandidate {
	out := make([]model.SearchCandidate, len(ids))
	for i, id := range ids {
		out[i] = model.SearchCandidate{URL: "https://example.test/" + id, MarketplaceID: id, IsPrivate: true}
	}
	return out
}

func ptr(s string) *string { return &s }
