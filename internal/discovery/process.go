package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/feedback"
	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/pricetrack"
	"github.com/sells-group/listing-radar/internal/resilience"
	"github.com/sells-group/listing-radar/internal/scorer"
	"github.com/sells-group/listing-radar/pkg/extractor"
)

// processCandidate classifies one candidate and stores it. Every failure is
// absorbed into an outcome so the cycle keeps going. The returned event is
// the score feedback for a stored listing.
func (o *Orchestrator) processCandidate(ctx context.Context, category string, c model.SearchCandidate, cr *CategoryReport) (feedback.Event, bool) {
	log := zap.L().With(zap.String("category", category), zap.String("url", c.URL))

	if !c.IsPrivate {
		cr.Outcomes[OutcomeCommercial]++
		return feedback.Event{}, false
	}

	if err := o.cfg.DetailPause.Wait(ctx); err != nil {
		return feedback.Event{}, false
	}
	retry := o.cfg.DetailRetry
	retry.OnRetry = resilience.LogRetries("fetch_detail", zap.String("url", c.URL))
	detail, err := resilience.Do(ctx, retry, func(ctx context.Context) (*model.Detail, error) {
		return o.oracle.FetchDetail(ctx, c.URL)
	})
	if err != nil {
		var skip *extractor.SkipError
		if errors.As(err, &skip) {
			cr.Outcomes[OutcomeSkipped]++
			log.Info("discovery: candidate skipped", zap.String("reason", skip.Reason))
			return feedback.Event{}, false
		}
		cr.Outcomes[OutcomeDetailFailed]++
		log.Warn("discovery: detail fetch failed", zap.Error(err))
		return feedback.Event{}, false
	}

	// The detail page wins when it disagrees with the search page.
	if !detail.IsPrivate {
		cr.Outcomes[OutcomeNotPrivate]++
		log.Info("discovery: detail page marks listing as commercial")
		return feedback.Event{}, false
	}
	if detail.MarketplaceID == "" {
		detail.MarketplaceID = c.MarketplaceID
	}

	now := o.now()
	l := detail.ToListing(category, now)

	class := o.geo.Classify(l.Location, l.Region)
	decision := o.geo.Evaluate(l.Location, l.Region)
	l.GeoAllowed, l.GeoReason = decision.Allowed, decision.Reason
	if !decision.Allowed {
		cr.Outcomes[OutcomeGeoRejected]++
		rej := model.GeoRejection{
			URL:           l.URL,
			MarketplaceID: l.MarketplaceID,
			Category:      category,
			Location:      l.Location,
			Region:        l.Region,
			Reason:        decision.Reason,
			RejectedAt:    now,
		}
		if err := o.store.RecordRejections(ctx, []model.GeoRejection{rej}); err != nil {
			log.Warn("discovery: geo rejection not recorded", zap.Error(err))
		}
		log.Debug("discovery: geo rejected", zap.String("reason", decision.Reason))
		return feedback.Event{}, false
	}

	existing, err := o.store.FindByURL(ctx, l.URL)
	if err != nil {
		cr.Outcomes[OutcomeStoreFailed]++
		log.Warn("discovery: lookup by url failed", zap.Error(err))
		return feedback.Event{}, false
	}
	if existing != nil {
		carryOver(l, existing, detail.LastChangedAt == nil, now)
		if err := o.tracker.Reconcile(ctx, l); err != nil {
			log.Warn("discovery: price drop counter not reconciled", zap.Error(err))
		}
	}

	result := scorer.Score(scorer.FromListing(l, class, decision.Allowed, now))
	scorer.Apply(l, result)

	if existing != nil {
		change, err := o.tracker.Track(ctx, l, existing.Snapshot(), now)
		if err != nil {
			log.Warn("discovery: price history not recorded", zap.Error(err))
		}
		if change.IsDrop {
			cr.PriceDrops++
			result = scorer.Score(scorer.FromListing(l, class, decision.Allowed, now))
			scorer.Apply(l, result)
			severity := pricetrack.ClassifySeller(l.TotalPriceDrops, l.LastPriceDropPercentage)
			o.events.progressf("Price drop %.1f%% on %s (seller %s)", change.Percentage, l.URL, severity)
		}
	}

	matches, err := o.detector.FindMatches(ctx, l)
	if err != nil {
		log.Warn("discovery: duplicate lookup failed", zap.Error(err))
	}

	if _, err := o.store.UpsertListing(ctx, l); err != nil {
		cr.Outcomes[OutcomeStoreFailed]++
		log.Warn("discovery: upsert failed", zap.Error(err))
		return feedback.Event{}, false
	}
	if existing == nil {
		cr.Outcomes[OutcomeNew]++
	} else {
		cr.Outcomes[OutcomeUpdated]++
	}

	if len(matches) > 0 {
		group, err := o.detector.Group(ctx, l, matches)
		if err != nil {
			log.Warn("discovery: duplicate grouping failed", zap.Error(err))
		} else if group != nil {
			cr.Duplicates++
			log.Info("discovery: duplicate group updated",
				zap.Int64("group_id", group.GroupID),
				zap.Int64("primary_id", group.PrimaryID),
				zap.Int("members", group.Members),
			)
		}
	}

	phone := strings.TrimSpace(l.Phone)
	if phone != "" && (existing == nil || strings.TrimSpace(existing.Phone) != phone) {
		cr.Phones++
		o.events.phoneFound(PhoneEvent{URL: l.URL, Phone: phone})
	}

	return feedback.NewEvent(l, result, now), true
}

// carryOver copies the state a re-scrape must not reset from the stored
// listing onto the freshly extracted one. Without a marketplace change date
// the listing counts as changed only when its content differs.
func carryOver(l, existing *model.Listing, inferChange bool, now time.Time) {
	l.ID = existing.ID
	l.FirstSeenAt = existing.FirstSeenAt
	if l.PublishedAt == nil {
		l.PublishedAt = existing.PublishedAt
	}

	l.TotalPriceDrops = existing.TotalPriceDrops
	l.LastPriceDrop = existing.LastPriceDrop
	l.LastPriceDropPercentage = existing.LastPriceDropPercentage
	l.LastPriceDropAt = existing.LastPriceDropAt

	l.DuplicateGroupID = existing.DuplicateGroupID
	l.IsPrimaryListing = existing.IsPrimaryListing
	l.DuplicateSources = existing.DuplicateSources
	l.Excluded = existing.Excluded

	if inferChange {
		if l.ContentChanged(existing) {
			l.LastChangedAt = now
		} else {
			l.LastChangedAt = existing.LastChangedAt
		}
	}
}
