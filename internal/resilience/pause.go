package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Pause is a randomized politeness delay between consecutive requests to
// the marketplace. The wait is drawn uniformly from [Min, Max].
type Pause struct {
	Min time.Duration
	Max time.Duration

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPause creates a Pause from millisecond bounds. Max below Min is raised
// to Min.
func NewPause(minMs, maxMs int) *Pause {
	if minMs < 0 {
		minMs = 0
	}
	if maxMs < minMs {
		maxMs = minMs
	}
	return &Pause{
		Min:   time.Duration(minMs) * time.Millisecond,
		Max:   time.Duration(maxMs) * time.Millisecond,
		sleep: Sleep,
	}
}

// Next draws the next delay.
func (p *Pause) Next() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)+1))
}

// Wait sleeps for the next delay. A nil Pause does not wait.
func (p *Pause) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, p.Next())
}
