package pagination

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/resilience"
)

// Default page limits.
const (
	DefaultMaxSafetyPages = 20
	DefaultBaselinePages  = 5
)

// Oracle fetches one search result page, newest listing first.
type Oracle interface {
	FetchSearchPage(ctx context.Context, category string, page int) ([]model.SearchCandidate, error)
}

// VisitFunc receives every candidate the paginator walks past, accepted or
// not. Candidate-level failures are the visitor's to handle.
type VisitFunc func(ctx context.Context, c model.SearchCandidate)

// Config tunes a Paginator.
type Config struct {
	MaxSafetyPages int
	BaselinePages  int
	Retry          resilience.Policy
	Pause          *resilience.Pause
	// Stopped is polled before every page and every candidate. Once it
	// returns true the run ends and the cursor is left untouched.
	Stopped func() bool
}

// Result reports how a category's run ended.
type Result struct {
	Cursor
	Mode           Mode `json:"mode"`
	PagesFetched   int  `json:"pages_fetched"`
	PagesFailed    int  `json:"pages_failed"`
	Visited        int  `json:"visited"`
	HitCursor      bool `json:"hit_cursor"`
	HitSafetyLimit bool `json:"hit_safety_limit"`
	EndOfResults   bool `json:"end_of_results"`
	Stopped        bool `json:"stopped"`
	CursorSaved    bool `json:"cursor_saved"`
}

// Paginator runs the per-category pagination loop.
type Paginator struct {
	oracle  Oracle
	cursors CursorStore
	cfg     Config
}

// NewPaginator creates a Paginator. Zero limits take the defaults.
func NewPaginator(oracle Oracle, cursors CursorStore, cfg Config) *Paginator {
	if cfg.MaxSafetyPages <= 0 {
		cfg.MaxSafetyPages = DefaultMaxSafetyPages
	}
	if cfg.BaselinePages <= 0 {
		cfg.BaselinePages = DefaultBaselinePages
	}
	if cfg.Stopped == nil {
		cfg.Stopped = func() bool { return false }
	}
	return &Paginator{oracle: oracle, cursors: cursors, cfg: cfg}
}

// Run pages through category until the stored cursor is seen, an empty page
// ends the results, or the page limit for mode is reached. The newest
// eligible id of page 1 is then saved as the category's cursor, also when
// the safety limit was hit. Failed pages are skipped after the retry budget
// is spent. Only a cursor read or write failure is returned as an error.
func (p *Paginator) Run(ctx context.Context, category string, mode Mode, visit VisitFunc) (Result, error) {
	log := zap.L().With(zap.String("category", category), zap.Stringer("mode", mode))
	res := Result{Cursor: Cursor{Category: category}, Mode: mode}

	last, err := p.cursors.GetCursor(ctx, category)
	if err != nil {
		return res, eris.Wrapf(err, "pagination: read cursor %s", category)
	}
	res.LastFirstID = last

	limit := p.cfg.MaxSafetyPages
	if mode == ModeBaseline {
		limit = p.cfg.BaselinePages
	}

	retry := p.cfg.Retry
	retry.OnRetry = resilience.LogRetries("fetch_search_page", zap.String("category", category))

	page := 1
pages:
	for ; page <= limit; page++ {
		if p.halted(ctx) {
			res.Stopped = true
			break
		}
		if page > 1 {
			if err := p.cfg.Pause.Wait(ctx); err != nil {
				res.Stopped = true
				break
			}
		}

		candidates, err := resilience.Do(ctx, retry, func(ctx context.Context) ([]model.SearchCandidate, error) {
			return p.oracle.FetchSearchPage(ctx, category, page)
		})
		if err != nil {
			if ctx.Err() != nil {
				res.Stopped = true
				break
			}
			res.PagesFailed++
			log.Warn("pagination: page skipped after retries", zap.Int("page", page), zap.Error(err))
			continue
		}
		res.PagesFetched++

		if len(candidates) == 0 {
			res.EndOfResults = true
			break
		}

		for _, c := range candidates {
			if p.halted(ctx) {
				res.Stopped = true
				break pages
			}
			if page == 1 && res.CurrentFirstID == nil && eligible(c) {
				id := c.MarketplaceID
				res.CurrentFirstID = &id
			}
			if last != nil && c.MarketplaceID == *last {
				res.HitCursor = true
				break pages
			}
			res.Visited++
			visit(ctx, c)
		}
	}

	if !res.Stopped && !res.HitCursor && !res.EndOfResults && page > limit && mode == ModeIncremental {
		res.HitSafetyLimit = true
		log.Warn("pagination: safety limit reached without finding cursor",
			zap.Int("max_pages", limit),
			zap.Stringp("cursor", last),
		)
	}

	if res.Stopped {
		log.Info("pagination: stopped, cursor left unchanged", zap.Int("pages", res.PagesFetched))
		return res, nil
	}
	if res.CurrentFirstID == nil {
		log.Warn("pagination: no eligible first listing on page 1, cursor left unchanged")
		return res, nil
	}

	if err := p.cursors.SetCursor(ctx, category, *res.CurrentFirstID); err != nil {
		return res, eris.Wrapf(err, "pagination: write cursor %s", category)
	}
	res.CursorSaved = true

	log.Info("pagination: category complete",
		zap.Int("pages", res.PagesFetched),
		zap.Int("failed_pages", res.PagesFailed),
		zap.Int("visited", res.Visited),
		zap.Bool("hit_cursor", res.HitCursor),
		zap.Stringp("new_cursor", res.CurrentFirstID),
	)
	return res, nil
}

func (p *Paginator) halted(ctx context.Context) bool {
	return ctx.Err() != nil || p.cfg.Stopped()
}

// eligible reports whether c may become the cursor: it needs a marketplace
// id and the private-seller flag.
func eligible(c model.SearchCandidate) bool {
	return c.MarketplaceID != "" && c.IsPrivate
}
