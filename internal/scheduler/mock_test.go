package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/listing-radar/internal/discovery"
)

// fakeEngine records calls. When block is set FullScrape signals started and
// waits for block to close.
type fakeEngine struct {
	mu         sync.Mutex
	ids        []string
	quickErr   error
	fullErr    error
	panicFull  bool
	quickCalls int
	triggers   []discovery.Trigger

	block   chan struct{}
	started chan struct{}
	halted  atomic.Bool
}

func (f *fakeEngine) FullScrape(_ context.Context, trigger discovery.Trigger) (discovery.CycleReport, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	block, started, panicFull, err := f.block, f.started, f.panicFull, f.fullErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if panicFull {
		panic("nil listing")
	}
	return discovery.CycleReport{ID: "cycle", Trigger: trigger, Aborted: err != nil}, err
}

func (f *fakeEngine) QuickCheck(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quickCalls++
	if f.quickErr != nil {
		return nil, f.quickErr
	}
	return append([]string(nil), f.ids...), nil
}

func (f *fakeEngine) Halt()   { f.halted.Store(true) }
func (f *fakeEngine) Resume() { f.halted.Store(false) }

func (f *fakeEngine) CurrentCycle() *discovery.CycleInfo { return nil }

func (f *fakeEngine) setIDs(ids ...string) {
	f.mu.Lock()
	f.ids = ids
	f.mu.Unlock()
}

func (f *fakeEngine) quickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quickCalls
}

func (f *fakeEngine) fullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

// fakeClock hands out tickers that fire only when the test says so.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	d       time.Duration
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{d: d, c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) ticker(d time.Duration) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if t.d == d && !t.stopped.Load() {
			return t
		}
	}
	return nil
}

// fire advances the clock by d and delivers one tick to the ticker with
// period d, blocking until the loop receives it.
func (c *fakeClock) fire(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.ticker(d).c <- now
}
