// Package scorer computes the desirability score of a listing. Scoring is a
// pure function of a listing snapshot; every sub-score is exposed in the
// breakdown for auditing and for the model trainer's feedback loop.
package scorer

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/listing-radar/internal/geo"
	"github.com/sells-group/listing-radar/internal/model"
)

// Tier is a coarse bucket of the total score.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierMedium    Tier = "medium"
	TierLow       Tier = "low"
)

const (
	goldFindBonus     = 20
	goldFindMinAge    = 30 // days since first seen, exclusive
	goldFindMaxRecent = 3  // days since last change, exclusive

	phoneBonus   = 10
	areaBonus    = 3
	perAreaBonus = 2
)

// Input is the scoring view of a listing. Day counts are whole days.
type Input struct {
	DaysSinceChanged   int
	DaysSinceFirstSeen int

	ImageCount        int
	DescriptionLength int
	HasPhone          bool
	HasArea           bool
	HasPricePerArea   bool

	PriceEvaluation string

	TotalPriceDrops    int
	LastDropPercentage float64

	// HasLocation is false when neither location text nor region is known.
	HasLocation bool
	GeoKind     geo.Kind
	GeoAllowed  bool
}

// FreshnessScore breaks down the freshness component.
type FreshnessScore struct {
	Recency  int `json:"recency"`
	Age      int `json:"age"`
	GoldFind int `json:"gold_find"`
	Total    int `json:"total"`
}

// CompletenessScore breaks down the completeness component.
type CompletenessScore struct {
	Photos       int `json:"photos"`
	Description  int `json:"description"`
	Phone        int `json:"phone"`
	Area         int `json:"area"`
	PricePerArea int `json:"price_per_area"`
	Total        int `json:"total"`
}

// Breakdown exposes every sub-score of a result.
type Breakdown struct {
	Freshness    FreshnessScore    `json:"freshness"`
	Completeness CompletenessScore `json:"completeness"`
	PriceValue   int               `json:"price_value"`
	PriceDrop    int               `json:"price_drop"`
	Location     int               `json:"location"`
}

// Result is the scored outcome for one listing.
type Result struct {
	Total      int       `json:"total"`
	Tier       Tier      `json:"tier"`
	IsGoldFind bool      `json:"is_gold_find"`
	Breakdown  Breakdown `json:"breakdown"`
}

// Score computes the quality score for in.
func Score(in Input) Result {
	var b Breakdown

	b.Freshness = freshness(in.DaysSinceChanged, in.DaysSinceFirstSeen)
	b.Completeness = completeness(in)
	b.PriceValue = priceValue(in.PriceEvaluation)
	b.PriceDrop = PriceDropBonus(in.TotalPriceDrops, in.LastDropPercentage)
	b.Location = locationScore(in)

	total := b.Freshness.Total + b.Completeness.Total + b.PriceValue + b.PriceDrop + b.Location
	return Result{
		Total:      total,
		Tier:       TierFor(total),
		IsGoldFind: b.Freshness.GoldFind > 0,
		Breakdown:  b,
	}
}

// IsGoldFind reports whether an old listing was just updated.
func IsGoldFind(daysSinceFirstSeen, daysSinceChanged int) bool {
	return daysSinceFirstSeen > goldFindMinAge && daysSinceChanged < goldFindMaxRecent
}

// TierFor maps a total score to its tier.
func TierFor(total int) Tier {
	switch {
	case total >= 80:
		return TierExcellent
	case total >= 60:
		return TierGood
	case total >= 40:
		return TierMedium
	default:
		return TierLow
	}
}

// PriceDropBonus rewards listings whose price has been cut. It is
// non-decreasing in both the number of drops and the latest drop size.
func PriceDropBonus(totalDrops int, lastDropPct float64) int {
	if totalDrops <= 0 {
		return 0
	}
	pct := math.Abs(lastDropPct)
	switch {
	case totalDrops >= 3 || pct >= 15:
		return 25
	case totalDrops == 2:
		return 20
	case pct >= 10:
		return 15
	case pct >= 5:
		return 10
	default:
		return 5
	}
}

func freshness(daysChanged, daysFirstSeen int) FreshnessScore {
	var f FreshnessScore

	switch {
	case daysChanged <= 1:
		f.Recency = 20
	case daysChanged <= 7:
		f.Recency = 15
	case daysChanged <= 14:
		f.Recency = 10
	case daysChanged <= 30:
		f.Recency = 5
	}

	switch {
	case daysFirstSeen <= 7:
		f.Age = 10
	case daysFirstSeen <= 14:
		f.Age = 7
	case daysFirstSeen <= 30:
		f.Age = 4
	case daysFirstSeen <= 60:
		f.Age = 2
	}

	if IsGoldFind(daysFirstSeen, daysChanged) {
		f.GoldFind = goldFindBonus
	}

	f.Total = f.Recency + f.Age + f.GoldFind
	return f
}

func completeness(in Input) CompletenessScore {
	var c CompletenessScore

	switch {
	case in.ImageCount >= 10:
		c.Photos = 15
	case in.ImageCount >= 6:
		c.Photos = 12
	case in.ImageCount >= 3:
		c.Photos = 8
	case in.ImageCount >= 1:
		c.Photos = 4
	}

	switch {
	case in.DescriptionLength >= 500:
		c.Description = 15
	case in.DescriptionLength >= 300:
		c.Description = 12
	case in.DescriptionLength >= 150:
		c.Description = 8
	case in.DescriptionLength >= 50:
		c.Description = 4
	}

	// A listing without a phone number cannot be worked directly.
	if in.HasPhone {
		c.Phone = phoneBonus
	} else {
		c.Phone = -phoneBonus
	}

	if in.HasArea {
		c.Area = areaBonus
	}
	if in.HasPricePerArea {
		c.PricePerArea = perAreaBonus
	}

	c.Total = c.Photos + c.Description + c.Phone + c.Area + c.PricePerArea
	return c
}

func priceValue(evaluation string) int {
	switch strings.ToLower(strings.TrimSpace(evaluation)) {
	case model.PriceBelowAverage:
		return 30
	case model.PriceAtAverage:
		return 15
	case model.PriceAboveAverage:
		return 5
	default:
		return 10
	}
}

func locationScore(in Input) int {
	if !in.HasLocation {
		return 0
	}
	switch in.GeoKind {
	case geo.KindCapital, geo.KindWhitelist:
		return 10
	case geo.KindBlacklist:
		return -10
	}
	if in.GeoAllowed {
		return 5
	}
	return 0
}

// FromListing builds the scoring input for l at now. The listing's age is
// measured from its marketplace publication date when known, since a listing
// first seen by us today may have been online for months.
func FromListing(l *model.Listing, class geo.Classification, allowed bool, now time.Time) Input {
	firstSeen := l.FirstSeenAt
	if l.PublishedAt != nil && !l.PublishedAt.IsZero() && l.PublishedAt.Before(firstSeen) {
		firstSeen = *l.PublishedAt
	}

	return Input{
		DaysSinceChanged:   daysBetween(l.LastChangedAt, now),
		DaysSinceFirstSeen: daysBetween(firstSeen, now),
		ImageCount:         len(l.Images),
		DescriptionLength:  len([]rune(strings.TrimSpace(l.Description))),
		HasPhone:           strings.TrimSpace(l.Phone) != "",
		HasArea:            l.Area > 0,
		HasPricePerArea:    l.PricePerArea > 0,
		PriceEvaluation:    l.PriceEvaluation,
		TotalPriceDrops:    l.TotalPriceDrops,
		LastDropPercentage: l.LastPriceDropPercentage,
		HasLocation:        strings.TrimSpace(l.Location) != "" || strings.TrimSpace(l.Region) != "",
		GeoKind:            class.Kind,
		GeoAllowed:         allowed,
	}
}

// Apply writes a result onto the listing's derived fields.
func Apply(l *model.Listing, r Result) {
	l.QualityScore = r.Total
	l.QualityTier = string(r.Tier)
	l.IsGoldFind = r.IsGoldFind
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
