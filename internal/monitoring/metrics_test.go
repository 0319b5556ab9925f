package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-radar/internal/discovery"
	"github.com/sells-group/listing-radar/internal/pagination"
)

func testReport(aborted bool) discovery.CycleReport {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	land := discovery.CategoryReport{
		Result: pagination.Result{
			Cursor:         pagination.Cursor{Category: "land"},
			PagesFetched:   18,
			PagesFailed:    2,
			HitSafetyLimit: true,
		},
		Outcomes:   map[discovery.Outcome]int{discovery.OutcomeNew: 3, discovery.OutcomeGeoRejected: 2},
		PriceDrops: 1,
	}
	houses := discovery.CategoryReport{
		Result: pagination.Result{
			Cursor:       pagination.Cursor{Category: "houses"},
			PagesFetched: 3,
			HitCursor:    true,
		},
		Outcomes: map[discovery.Outcome]int{discovery.OutcomeNew: 1},
	}
	return discovery.CycleReport{
		ID:         "cycle-1",
		Trigger:    discovery.TriggerSchedule,
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
		Categories: []discovery.CategoryReport{land, houses},
		Aborted:    aborted,
	}
}

func TestMetrics_ObserveCycle(t *testing.T) {
	m := NewMetrics()
	m.ObserveCycle(testReport(false))
	m.ObserveCycle(testReport(true))

	assert.InDelta(t, 1, testutil.ToFloat64(m.cycles.WithLabelValues("schedule", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cycles.WithLabelValues("schedule", "aborted")), 0)
	assert.InDelta(t, 36, testutil.ToFloat64(m.pages.WithLabelValues("land", "fetched")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.pages.WithLabelValues("land", "failed")), 0)
	assert.InDelta(t, 6, testutil.ToFloat64(m.candidates.WithLabelValues("land", "new")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.candidates.WithLabelValues("houses", "new")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.safetyHits.WithLabelValues("land")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.priceDrops), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleDuration))
}

func TestMetrics_StateGauge(t *testing.T) {
	m := NewMetrics()
	all := []string{"idle", "quick_checking", "full_scraping"}

	m.SetState("full_scraping", all...)
	assert.InDelta(t, 1, testutil.ToFloat64(m.state.WithLabelValues("full_scraping")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.state.WithLabelValues("idle")), 0)

	m.SetState("idle", all...)
	assert.InDelta(t, 0, testutil.ToFloat64(m.state.WithLabelValues("full_scraping")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.state.WithLabelValues("idle")), 0)
}

func TestMetrics_QuickCheckAndBreaker(t *testing.T) {
	m := NewMetrics()
	m.QuickCheck("skipped_busy")
	m.QuickCheck("skipped_busy")
	m.QuickCheck("triggered")
	m.SetBreakerState(2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.quickChecks.WithLabelValues("skipped_busy")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.quickChecks.WithLabelValues("triggered")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.breakerState), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle(testReport(false))
		m.QuickCheck("no_change")
		m.SetState("idle")
		m.SetBreakerState(0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveCycle(testReport(false))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "listing_radar_cycles_total")
	assert.Contains(t, string(body), `listing_radar_pages_total{category="land",status="fetched"} 18`)
}
