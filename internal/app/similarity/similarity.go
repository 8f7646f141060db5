// Package similarity provides pluggable title similarity used for fuzzy de-duplication.
package similarity

import (
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the ratio at or above which two titles are the same song.
const DefaultThreshold = 0.85

// Func returns a similarity ratio in [0, 1] for two strings.
type Func func(a, b string) float64

// Ratio is a sequence-matcher ratio over the runes of both strings.
// Two empty strings are identical.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Deduper decides whether a title duplicates one of a set of recent titles.
type Deduper struct {
	fn        Func
	threshold float64
}

// NewDeduper creates a deduper. A nil fn uses Ratio and a non-positive threshold uses DefaultThreshold.
func NewDeduper(fn Func, threshold float64) *Deduper {
	if fn == nil {
		fn = Ratio
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Deduper{fn: fn, threshold: threshold}
}

// Threshold returns the configured threshold.
func (d *Deduper) Threshold() float64 {
	return d.threshold
}

// Similar returns the similarity of two titles after normalization.
func (d *Deduper) Similar(a, b string) float64 {
	return d.fn(Normalize(a), Normalize(b))
}

// IsDuplicate reports whether title is a fuzzy duplicate of any recent title.
func (d *Deduper) IsDuplicate(title string, recent []string) bool {
	n := Normalize(title)
	for _, r := range recent {
		if d.fn(n, Normalize(r)) >= d.threshold {
			return true
		}
	}
	return false
}
