package dedup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	countrySuffix = regexp.MustCompile(`,?\s*(osterreich|oesterreich|austria)\s*$`)
	citySuffix    = regexp.MustCompile(`,\s*(wien|vienna)\s*$`)
	postalCode    = regexp.MustCompile(`\b\d{4,5}\b`)
	spaces        = regexp.MustCompile(`\s+`)
)

// NormalizeLocation reduces a free-text location to a comparable form:
// lower-cased, diacritics folded, country and trailing city suffixes removed,
// postal codes and punctuation stripped.
func NormalizeLocation(s string) string {
	s = foldDiacritics(strings.ToLower(strings.TrimSpace(s)))
	s = countrySuffix.ReplaceAllString(s, "")
	s = citySuffix.ReplaceAllString(s, "")
	s = postalCode.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// LocationSimilarity scores two locations in [0, 1]: 1.0 when they normalize
// to the same string, 0.9 when one contains the other, otherwise the Jaccard
// overlap of words longer than two characters.
func LocationSimilarity(a, b string) float64 {
	na, nb := NormalizeLocation(a), NormalizeLocation(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.9
	}

	wa, wb := significantWords(na), significantWords(nb)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func significantWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		if len([]rune(w)) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldDiacritics(s string) string {
	s = strings.ReplaceAll(s, "ß", "ss")
	out, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return out
}
