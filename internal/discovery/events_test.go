package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvents_FanOut(t *testing.T) {
	var e Events
	var a, b []string
	e.OnProgress(func(msg string) { a = append(a, msg) })
	e.OnProgress(func(msg string) { b = append(b, msg) })

	e.progressf("page %d of %s", 2, "land")
	assert.Equal(t, []string{"page 2 of land"}, a)
	assert.Equal(t, []string{"page 2 of land"}, b)
}

func TestEvents_PanickingSubscriberIsSkipped(t *testing.T) {
	var e Events
	var got []PhoneEvent
	e.OnPhone(func(PhoneEvent) { panic("subscriber bug") })
	e.OnPhone(func(ev PhoneEvent) { got = append(got, ev) })

	assert.NotPanics(t, func() {
		e.phoneFound(PhoneEvent{URL: "https://m.test/1", Phone: "0660"})
	})
	assert.Equal(t, []PhoneEvent{{URL: "https://m.test/1", Phone: "0660"}}, got)
}

func TestEvents_NilSafe(t *testing.T) {
	var e *Events
	assert.NotPanics(t, func() {
		e.progressf("x")
		e.phoneFound(PhoneEvent{})
	})
}

func TestCycleReport_Totals(t *testing.T) {
	land := newCategoryReport("land")
	land.PagesFetched, land.PagesFailed, land.HitSafetyLimit = 20, 1, true
	land.Outcomes[OutcomeNew] = 3
	land.Outcomes[OutcomeUpdated] = 1
	houses := newCategoryReport("houses")
	houses.PagesFetched = 2
	houses.Outcomes[OutcomeNew] = 1
	houses.Outcomes[OutcomeGeoRejected] = 4

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := CycleReport{
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Categories: []CategoryReport{*land, *houses},
	}

	tot := r.Totals()
	assert.Equal(t, 22, tot.PagesFetched)
	assert.Equal(t, 1, tot.PagesFailed)
	assert.Equal(t, 4, tot.Outcomes[OutcomeNew])
	assert.Equal(t, 4, tot.Outcomes[OutcomeGeoRejected])
	assert.Equal(t, 5, tot.Stored())
	assert.Equal(t, 1, r.SafetyLimitHits())
	assert.Equal(t, 90*time.Second, r.Duration())
	assert.Zero(t, CycleReport{StartedAt: start}.Duration())
}
