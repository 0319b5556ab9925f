package discovery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/dedup"
	"github.com/sells-group/listing-radar/internal/feedback"
	"github.com/sells-group/listing-radar/internal/geo"
	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/pagination"
	"github.com/sells-group/listing-radar/internal/pricetrack"
	"github.com/sells-group/listing-radar/internal/resilience"
	"github.com/sells-group/listing-radar/internal/store"
	"github.com/sells-group/listing-radar/pkg/extractor"
)

// Oracle is the extraction service.
type Oracle interface {
	pagination.Oracle
	FetchDetail(ctx context.Context, url string) (*model.Detail, error)
}

// Store is the persistence the orchestrator writes through.
type Store interface {
	store.ListingStore
	store.RejectionSink
	dedup.Store
	pagination.CursorStore
	pricetrack.HistoryStore
}

// Config tunes an Orchestrator.
type Config struct {
	Categories []string
	Paging     pagination.Config
	// DetailRetry governs detail fetches. Skip reasons are never retried.
	DetailRetry resilience.Policy
	// DetailPause runs before every detail fetch. Nil disables it.
	DetailPause *resilience.Pause
	Dedup       dedup.Config
}

// Deps are the collaborators of an Orchestrator. Feedback and Events are
// optional.
type Deps struct {
	Oracle   Oracle
	Store    Store
	Geo      *geo.Filter
	Feedback feedback.Publisher
	Events   *Events
}

// Orchestrator owns the scraper state of one discovery engine. It is not
// safe for concurrent FullScrape calls; the scheduler serializes them.
type Orchestrator struct {
	oracle   Oracle
	store    Store
	geo      *geo.Filter
	tracker  *pricetrack.Tracker
	detector *dedup.Detector
	feedback feedback.Publisher
	events   *Events
	cfg      Config

	now     func() time.Time
	halted  atomic.Bool
	current atomic.Pointer[CycleInfo]
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Feedback == nil {
		deps.Feedback = feedback.Noop{}
	}
	if deps.Events == nil {
		deps.Events = &Events{}
	}
	o := &Orchestrator{
		oracle:   deps.Oracle,
		store:    deps.Store,
		geo:      deps.Geo,
		tracker:  pricetrack.NewTracker(deps.Store),
		detector: dedup.NewDetector(deps.Store, cfg.Dedup),
		feedback: deps.Feedback,
		events:   deps.Events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	o.cfg.Paging.Stopped = o.halted.Load
	o.cfg.DetailRetry.Retryable = detailRetryable
	return o
}

func detailRetryable(err error) bool {
	return !extractor.IsSkip(err) && !resilience.IsPermanent(err)
}

// Events returns the subscriber hub.
func (o *Orchestrator) Events() *Events { return o.events }

// Halt asks a running cycle to finish its in-flight request and stop. The
// cursor of the interrupted category is not written.
func (o *Orchestrator) Halt() { o.halted.Store(true) }

// Resume clears a previous Halt.
func (o *Orchestrator) Resume() { o.halted.Store(false) }

// Halted reports whether Halt is in effect.
func (o *Orchestrator) Halted() bool { return o.halted.Load() }

// CycleInfo identifies the cycle in progress.
type CycleInfo struct {
	ID        string          `json:"id"`
	Trigger   Trigger         `json:"trigger"`
	Mode      pagination.Mode `json:"mode"`
	StartedAt time.Time       `json:"started_at"`
	Category  string          `json:"category,omitempty"`
}

// CurrentCycle returns the cycle in progress, or nil.
func (o *Orchestrator) CurrentCycle() *CycleInfo { return o.current.Load() }

func (o *Orchestrator) setCurrent(r *CycleReport, category string) {
	o.current.Store(&CycleInfo{
		ID:        r.ID,
		Trigger:   r.Trigger,
		Mode:      r.Mode,
		StartedAt: r.StartedAt,
		Category:  category,
	})
}

// FullScrape pages through every configured category and classifies each
// candidate. A candidate or page failure never aborts the cycle; a cursor
// read or write failure aborts it and is returned together with the partial
// report.
func (o *Orchestrator) FullScrape(ctx context.Context, trigger Trigger) (CycleReport, error) {
	report := CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: o.now(),
	}
	log := zap.L().With(
		zap.String("component", "discovery"),
		zap.String("cycle_id", report.ID),
		zap.String("trigger", string(trigger)),
	)
	o.setCurrent(&report, "")
	defer o.current.Store(nil)

	mode, err := pagination.ResolveMode(ctx, o.store, o.cfg.Categories)
	if err != nil {
		report.Aborted = true
		report.FinishedAt = o.now()
		return report, eris.Wrap(err, "discovery: resolve pagination mode")
	}
	report.Mode = mode
	log.Info("full scrape started", zap.Stringer("mode", mode), zap.Strings("categories", o.cfg.Categories))
	o.events.progressf("Full scrape started (%s, %d categories)", mode, len(o.cfg.Categories))

	pager := pagination.NewPaginator(o.oracle, o.store, o.cfg.Paging)

	for _, category := range o.cfg.Categories {
		if o.halted.Load() || ctx.Err() != nil {
			break
		}

		cr := newCategoryReport(category)
		o.setCurrent(&report, category)
		var pending []feedback.Event
		o.events.progressf("Scraping %s", category)

		res, err := pager.Run(ctx, category, mode, func(ctx context.Context, c model.SearchCandidate) {
			if ev, ok := o.processCandidate(ctx, category, c, cr); ok {
				pending = append(pending, ev)
			}
		})
		cr.Result = res
		o.publish(ctx, pending)

		if err != nil {
			cr.Err = err.Error()
			report.Categories = append(report.Categories, *cr)
			report.Aborted = true
			report.FinishedAt = o.now()
			log.Error("full scrape aborted", zap.String("category", category), zap.Error(err))
			o.events.progressf("Aborted in %s: %v", category, err)
			return report, eris.Wrapf(err, "discovery: category %s", category)
		}

		report.Categories = append(report.Categories, *cr)
		o.events.progressf("%s done: %d pages, %d new, %d updated", category,
			res.PagesFetched, cr.Outcomes[OutcomeNew], cr.Outcomes[OutcomeUpdated])
		if res.HitSafetyLimit {
			o.events.progressf("%s: safety limit of %d pages reached", category, res.PagesFetched+res.PagesFailed)
		}
	}

	report.FinishedAt = o.now()
	totals := report.Totals()
	log.Info("full scrape complete",
		zap.Duration("duration", report.Duration()),
		zap.Int("pages", totals.PagesFetched),
		zap.Int("failed_pages", totals.PagesFailed),
		zap.Int("new", totals.Outcomes[OutcomeNew]),
		zap.Int("updated", totals.Outcomes[OutcomeUpdated]),
		zap.Int("safety_hits", report.SafetyLimitHits()),
	)
	o.events.progressf("Full scrape complete: %d new, %d updated", totals.Outcomes[OutcomeNew], totals.Outcomes[OutcomeUpdated])
	return report, nil
}

// QuickCheck fetches page 1 of category and returns the marketplace ids on
// it in page order.
func (o *Orchestrator) QuickCheck(ctx context.Context, category string) ([]string, error) {
	retry := o.cfg.Paging.Retry
	retry.OnRetry = resilience.LogRetries("quick_check", zap.String("category", category))
	candidates, err := resilience.Do(ctx, retry, func(ctx context.Context) ([]model.SearchCandidate, error) {
		return o.oracle.FetchSearchPage(ctx, category, 1)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: quick check %s", category)
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.MarketplaceID != "" {
			ids = append(ids, c.MarketplaceID)
		}
	}
	return ids, nil
}

func (o *Orchestrator) publish(ctx context.Context, events []feedback.Event) {
	if len(events) == 0 {
		return
	}
	if err := o.feedback.Publish(ctx, events...); err != nil {
		zap.L().Warn("discovery: score feedback not published", zap.Int("events", len(events)), zap.Error(err))
	}
}
