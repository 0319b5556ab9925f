package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-radar/internal/feedback"
	"github.com/sells-group/listing-radar/internal/geo"
	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/pagination"
	"github.com/sells-group/listing-radar/internal/resilience"
	"github.com/sells-group/listing-radar/internal/store"
	"github.com/sells-group/listing-radar/pkg/extractor"
)

// fakeOracle serves canned search pages and detail records. A URL with no
// detail record is skipped as removed. Queued detail errors are returned
// before the record.
type fakeOracle struct {
	mu          sync.Mutex
	pages       map[string][][]model.SearchCandidate
	details     map[string]*model.Detail
	detailErrs  map[string][]error
	searchErr   error
	detailCalls map[string]int
	searchCalls int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		pages:       map[string][][]model.SearchCandidate{},
		details:     map[string]*model.Detail{},
		detailErrs:  map[string][]error{},
		detailCalls: map[string]int{},
	}
}

func (f *fakeOracle) FetchSearchPage(_ context.Context, category string, page int) ([]model.SearchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	pages := f.pages[category]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func (f *fakeOracle) FetchDetail(_ context.Context, url string) (*model.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls[url]++
	if errs := f.detailErrs[url]; len(errs) > 0 {
		f.detailErrs[url] = errs[1:]
		return nil, errs[0]
	}
	d, ok := f.details[url]
	if !ok {
		return nil, &extractor.SkipError{URL: url, Reason: "listing removed"}
	}
	cp := *d
	return &cp, nil
}

// add registers a private candidate and its detail record.
func (f *fakeOracle) add(category string, page int, d model.Detail) model.SearchCandidate {
	c := model.SearchCandidate{URL: d.URL, MarketplaceID: d.MarketplaceID, IsPrivate: true}
	f.addCandidate(category, page, c)
	f.details[d.URL] = &d
	return c
}

func (f *fakeOracle) addCandidate(category string, page int, c model.SearchCandidate) {
	for len(f.pages[category]) < page {
		f.pages[category] = append(f.pages[category], nil)
	}
	f.pages[category][page-1] = append(f.pages[category][page-1], c)
}

func (f *fakeOracle) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = map[string][][]model.SearchCandidate{}
}

// cursorFailStore fails every cursor write.
type cursorFailStore struct {
	*store.SQLiteStore
}

func (s cursorFailStore) SetCursor(context.Context, string, string) error {
	return errors.New("kv_state locked")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []feedback.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...feedback.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var testBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// steppingClock advances one minute per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return testBase.Add(time.Duration(n) * time.Minute)
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "radar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testConfig(categories ...string) Config {
	fast := resilience.Policy{Attempts: 3}
	return Config{
		Categories: categories,
		Paging: pagination.Config{
			MaxSafetyPages: 4,
			BaselinePages:  2,
			Retry:          fast,
		},
		DetailRetry: fast,
	}
}

func newTestOrchestrator(oracle Oracle, st Store, pub feedback.Publisher, cfg Config) *Orchestrator {
	o := NewOrchestrator(Deps{
		Oracle:   oracle,
		Store:    st,
		Geo:      geo.NewFilter(geo.DefaultLists()),
		Feedback: pub,
	}, cfg)
	o.now = steppingClock()
	return o
}

func viennaDetail(id string, price float64) model.Detail {
	return model.Detail{
		URL:             "https://m.test/" + id,
		MarketplaceID:   id,
		Source:          "willhaben",
		IsPrivate:       true,
		Title:           "Baugrund " + id,
		Description:     "Sonniger Baugrund in ruhiger Lage",
		Price:           price,
		Area:            800,
		PriceEvaluation: model.PriceAtAverage,
		Location:        "1220 Wien",
		Region:          "wien",
		Images:          []string{"a.jpg", "b.jpg"},
	}
}
