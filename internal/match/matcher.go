// Package match resolves a spoken or typed phrase to the closest known
// command name.
//
// Similarity follows difflib's SequenceMatcher ratio (2*M/T over Unicode
// code points), so thresholds behave the same as the widely used
// get_close_matches cutoff.
package match

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the minimum ratio a candidate must reach to be accepted.
const DefaultThreshold = 0.6

// Result describes a resolved command.
type Result struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Exact bool    `json:"exact"`
}

// Matcher is safe for concurrent use; it holds no mutable state.
type Matcher struct {
	Threshold float64
}

// New returns a Matcher. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match returns the best candidate for query, or false when none clears the
// threshold. Exact (verbatim, then case-insensitive) hits short-circuit
// scoring. Equal scores resolve to the lexicographically smallest name.
func (m *Matcher) Match(query string, candidates []string) (Result, bool) {
	if len(candidates) == 0 {
		return Result{}, false
	}
	for _, c := range candidates {
		if c == query && c != "" {
			return Result{Name: c, Score: 1, Exact: true}, true
		}
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, false
	}

	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	for _, c := range sorted {
		if c == query {
			return Result{Name: c, Score: 1, Exact: true}, true
		}
	}

	lq := strings.ToLower(query)
	for _, c := range sorted {
		if strings.ToLower(c) == lq {
			return Result{Name: c, Score: 1, Exact: true}, true
		}
	}

	threshold := m.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	qs := splitRunes(lq)
	sm := difflib.NewMatcher(nil, qs)

	var best Result
	found := false
	for _, c := range sorted {
		sm.SetSeq1(splitRunes(strings.ToLower(c)))
		// Cheap upper bounds first, as get_close_matches does.
		if sm.RealQuickRatio() < threshold || sm.QuickRatio() < threshold {
			continue
		}
		score := sm.Ratio()
		if score < threshold {
			continue
		}
		if !found || score > best.Score {
			best = Result{Name: c, Score: score}
			found = true
		}
	}
	return best, found
}

// Score returns the similarity ratio of a against b in [0, 1].
func Score(a, b string) float64 {
	return difflib.NewMatcher(splitRunes(a), splitRunes(b)).Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
