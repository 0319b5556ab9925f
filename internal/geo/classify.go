// Package geo decides whether a listing lies inside the acquisition catchment
// area. Decisions are pure functions of the location text and coarse region.
package geo

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies which rule matched a location.
type Kind int

const (
	// KindUnlisted means no list matched; the regional default applies.
	KindUnlisted Kind = iota
	// KindCapital means the listing is in the capital region.
	KindCapital
	// KindWhitelist means a whitelisted place name or postal prefix matched.
	KindWhitelist
	// KindBlacklist means a blacklisted place name or postal prefix matched.
	KindBlacklist
)

func (k Kind) String() string {
	switch k {
	case KindCapital:
		return "capital"
	case KindWhitelist:
		return "whitelist"
	case KindBlacklist:
		return "blacklist"
	default:
		return "unlisted"
	}
}

// Decision is the outcome of evaluating a location.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Classification reports the matched rule and list entry.
type Classification struct {
	Kind  Kind
	Entry string
	// Secondary is true when the region is the secondary region, where
	// unlisted locations are denied.
	Secondary bool
}

var postalPattern = regexp.MustCompile(`\b\d{4}\b`)

// Filter evaluates locations against fixed white and black lists. It holds
// no mutable state and is safe for concurrent use.
type Filter struct {
	capital   string
	secondary string

	whitelistNames  []string
	whitelistPostal []string
	blacklistNames  []string
	blacklistPostal []string
}

// NewFilter builds a Filter from lists. Entries are lower-cased and trimmed.
func NewFilter(l Lists) *Filter {
	return &Filter{
		capital:         NormalizeRegion(l.CapitalRegion),
		secondary:       NormalizeRegion(l.SecondaryRegion),
		whitelistNames:  normalizeEntries(l.WhitelistNames),
		whitelistPostal: normalizeEntries(l.WhitelistPostalPrefixes),
		blacklistNames:  normalizeEntries(l.BlacklistNames),
		blacklistPostal: normalizeEntries(l.BlacklistPostalPrefixes),
	}
}

// Classify returns the first rule matching location and region, in priority
// order capital, whitelist, blacklist.
func (f *Filter) Classify(location, region string) Classification {
	reg := NormalizeRegion(region)
	c := Classification{Secondary: reg != "" && reg == f.secondary}

	if reg != "" && reg == f.capital {
		c.Kind = KindCapital
		c.Entry = reg
		return c
	}

	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return c
	}
	codes := postalPattern.FindAllString(loc, -1)

	if entry, ok := matchName(loc, f.whitelistNames); ok {
		c.Kind, c.Entry = KindWhitelist, entry
		return c
	}
	if entry, ok := matchPostal(codes, f.whitelistPostal); ok {
		c.Kind, c.Entry = KindWhitelist, entry
		return c
	}
	if entry, ok := matchName(loc, f.blacklistNames); ok {
		c.Kind, c.Entry = KindBlacklist, entry
		return c
	}
	if entry, ok := matchPostal(codes, f.blacklistPostal); ok {
		c.Kind, c.Entry = KindBlacklist, entry
		return c
	}
	return c
}

// Evaluate decides whether a listing at location in region is eligible.
// Unlisted locations are denied in the secondary region and allowed elsewhere.
func (f *Filter) Evaluate(location, region string) Decision {
	c := f.Classify(location, region)
	switch c.Kind {
	case KindCapital:
		return Decision{Allowed: true, Reason: "capital region"}
	case KindWhitelist:
		return Decision{Allowed: true, Reason: fmt.Sprintf("whitelisted: %s", c.Entry)}
	case KindBlacklist:
		return Decision{Allowed: false, Reason: fmt.Sprintf("blacklisted: %s", c.Entry)}
	}
	if c.Secondary {
		return Decision{Allowed: false, Reason: fmt.Sprintf("not whitelisted in %s", f.secondary)}
	}
	return Decision{Allowed: true, Reason: "no list match"}
}

// NormalizeRegion lower-cases a region name and folds German umlauts so that
// "Niederösterreich" and "niederoesterreich" compare equal.
func NormalizeRegion(region string) string {
	return umlautFolder.Replace(strings.ToLower(strings.TrimSpace(region)))
}

var umlautFolder = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")

func matchName(loc string, names []string) (string, bool) {
	for _, n := range names {
		if strings.Contains(loc, n) {
			return n, true
		}
	}
	return "", false
}

func matchPostal(codes, prefixes []string) (string, bool) {
	for _, code := range codes {
		for _, p := range prefixes {
			if strings.HasPrefix(code, p) {
				return p, true
			}
		}
	}
	return "", false
}

func normalizeEntries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
