package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/discovery"
)

const defaultQueue = 16

// Checker records cycle metrics as reports arrive and evaluates alerts in
// the background, so a slow webhook never delays the scheduler.
type Checker struct {
	metrics *Metrics
	alerter *Alerter
	reports chan discovery.CycleReport
}

// NewChecker creates a background alert checker. Either collaborator may be
// nil.
func NewChecker(metrics *Metrics, alerter *Alerter) *Checker {
	return &Checker{
		metrics: metrics,
		alerter: alerter,
		reports: make(chan discovery.CycleReport, defaultQueue),
	}
}

// Submit records r and queues it for alerting. It never blocks; when the
// queue is full the report is counted but not evaluated.
func (c *Checker) Submit(r discovery.CycleReport) bool {
	c.metrics.ObserveCycle(r)
	if c.alerter == nil {
		return true
	}
	select {
	case c.reports <- r:
		return true
	default:
		zap.L().Warn("monitoring: alert queue full, report dropped", zap.String("cycle_id", r.ID))
		return false
	}
}

// Run evaluates queued reports until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker")

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case r := <-c.reports:
			c.check(ctx, log, r)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger, r discovery.CycleReport) {
	alerts := c.alerter.Evaluate(r)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.String("cycle_id", r.ID))
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.String("cycle_id", r.ID),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
