package pricetrack

import "math"

// Severity grades how motivated a seller appears from their price cuts.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ClassifySeller grades a seller using the same thresholds as the price-drop
// bonus: 3+ drops or a 15% cut is high, 2 drops or a 10-15% cut is medium,
// a single 5-10% cut is low.
func ClassifySeller(totalDrops int, lastDropPct float64) Severity {
	if totalDrops <= 0 {
		return SeverityNone
	}
	pct := math.Abs(lastDropPct)
	switch {
	case totalDrops >= 3 || pct >= SevereDropPct:
		return SeverityHigh
	case totalDrops == 2 || pct >= MajorDropPct:
		return SeverityMedium
	case pct >= SignificantDropPct:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// IsDesperateSeller reports whether the listing shows any motivated-seller
// signal.
func IsDesperateSeller(totalDrops int, lastDropPct float64) bool {
	return ClassifySeller(totalDrops, lastDropPct) != SeverityNone
}
