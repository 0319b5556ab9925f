// Package discovery runs full scrapes and quick checks against the
// marketplace and classifies every discovered listing before it is stored.
package discovery

import (
	"time"

	"github.com/sells-group/listing-radar/internal/pagination"
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerQuickCheck Trigger = "quick_check"
	TriggerSchedule   Trigger = "schedule"
	TriggerManual     Trigger = "manual"
)

// Outcome is the terminal classification of one candidate.
type Outcome string

const (
	OutcomeCommercial   Outcome = "commercial"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeDetailFailed Outcome = "detail_failed"
	OutcomeNotPrivate   Outcome = "not_private"
	OutcomeGeoRejected  Outcome = "geo_rejected"
	OutcomeNew          Outcome = "new"
	OutcomeUpdated      Outcome = "updated"
	OutcomeStoreFailed  Outcome = "store_failed"
)

// Outcomes lists every Outcome in report order.
var Outcomes = []Outcome{
	OutcomeCommercial, OutcomeSkipped, OutcomeDetailFailed, OutcomeNotPrivate,
	OutcomeGeoRejected, OutcomeNew, OutcomeUpdated, OutcomeStoreFailed,
}

// CategoryReport summarizes one category of a cycle.
type CategoryReport struct {
	pagination.Result

	Outcomes   map[Outcome]int `json:"outcomes"`
	PriceDrops int             `json:"price_drops"`
	Duplicates int             `json:"duplicates"`
	Phones     int             `json:"phones"`
	Err        string          `json:"error,omitempty"`
}

func newCategoryReport(category string) *CategoryReport {
	r := &CategoryReport{Outcomes: make(map[Outcome]int, len(Outcomes))}
	r.Category = category
	return r
}

// Stored is the number of candidates written to the listing store.
func (r *CategoryReport) Stored() int {
	return r.Outcomes[OutcomeNew] + r.Outcomes[OutcomeUpdated]
}

// CycleReport summarizes a full scrape.
type CycleReport struct {
	ID         string           `json:"id"`
	Trigger    Trigger          `json:"trigger"`
	Mode       pagination.Mode  `json:"mode"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Categories []CategoryReport `json:"categories"`
	Aborted    bool             `json:"aborted"`
}

// Duration is the wall time of the cycle.
func (r CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Totals sums the per-category counters.
func (r CycleReport) Totals() CategoryReport {
	t := CategoryReport{Outcomes: make(map[Outcome]int, len(Outcomes))}
	for _, c := range r.Categories {
		t.PagesFetched += c.PagesFetched
		t.PagesFailed += c.PagesFailed
		t.Visited += c.Visited
		t.PriceDrops += c.PriceDrops
		t.Duplicates += c.Duplicates
		t.Phones += c.Phones
		for o, n := range c.Outcomes {
			t.Outcomes[o] += n
		}
	}
	return t
}

// SafetyLimitHits counts categories that stopped at the safety limit.
func (r CycleReport) SafetyLimitHits() int {
	n := 0
	for _, c := range r.Categories {
		if c.HitSafetyLimit {
			n++
		}
	}
	return n
}
