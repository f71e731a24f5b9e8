package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatch_VerbatimCandidateWins(t *testing.T) {
	m := New(DefaultThreshold)
	candidates := []string{"Hello", "hello", "help", "早安"}

	for _, q := range candidates {
		res, ok := m.Match(q, candidates)
		require.True(t, ok, "query %q", q)
		require.Equal(t, q, res.Name)
		require.True(t, res.Exact)
		require.Equal(t, 1.0, res.Score)
	}
}

func TestMatch_VerbatimBeforeTrimming(t *testing.T) {
	m := New(DefaultThreshold)

	res, ok := m.Match(" a", []string{" a", "a"})
	require.True(t, ok)
	require.Equal(t, " a", res.Name)
	require.True(t, res.Exact)

	res, ok = m.Match("  hello ", []string{"hello"})
	require.True(t, ok)
	require.Equal(t, "hello", res.Name)
}

func TestMatch_CaseInsensitiveExact(t *testing.T) {
	m := New(DefaultThreshold)

	res, ok := m.Match("GOOD MORNING", []string{"good morning", "good night"})
	require.True(t, ok)
	require.Equal(t, "good morning", res.Name)
	require.True(t, res.Exact)
}

func TestMatch_GoldenVectors(t *testing.T) {
	m := New(DefaultThreshold)
	candidates := []string{"hello", "help", "world"}

	tests := []struct {
		query string
		want  string
		score float64
	}{
		{query: "helo", want: "hello", score: 8.0 / 9.0},
		{query: "wrld", want: "world", score: 8.0 / 9.0},
		{query: "HELP!", want: "help", score: 8.0 / 9.0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, ok := m.Match(tt.query, candidates)
			require.True(t, ok)
			require.Equal(t, tt.want, res.Name)
			require.False(t, res.Exact)
			require.InDelta(t, tt.score, res.Score, 1e-9)
		})
	}
}

func TestMatch_BelowThresholdReturnsNone(t *testing.T) {
	m := New(DefaultThreshold)

	_, ok := m.Match("xyz", []string{"hello", "help", "world"})
	require.False(t, ok)

	// "help" vs "hello" scores 0.75; a stricter matcher rejects it.
	strict := New(0.8)
	_, ok = strict.Match("help", []string{"hello"})
	require.False(t, ok)
}

func TestMatch_EmptyInputs(t *testing.T) {
	m := New(DefaultThreshold)

	_, ok := m.Match("", []string{"hello"})
	require.False(t, ok)

	_, ok = m.Match("   ", []string{"hello"})
	require.False(t, ok)

	_, ok = m.Match("hello", nil)
	require.False(t, ok)
}

func TestMatch_TieBreaksLexicographically(t *testing.T) {
	m := New(DefaultThreshold)

	// Both candidates share "ab" with the query: 2*2/6 each.
	for _, order := range [][]string{{"abe", "abd"}, {"abd", "abe"}} {
		res, ok := m.Match("abc", order)
		require.True(t, ok)
		require.Equal(t, "abd", res.Name)
	}
}

func TestMatch_UnicodeCodePoints(t *testing.T) {
	m := New(DefaultThreshold)

	res, ok := m.Match("早安你好", []string{"早安", "晚安晚安"})
	require.True(t, ok)
	require.Equal(t, "早安", res.Name)
	require.InDelta(t, 4.0/6.0, res.Score, 1e-9)
}

func TestMatch_DoesNotMutateCandidates(t *testing.T) {
	m := New(DefaultThreshold)
	candidates := []string{"world", "hello"}

	m.Match("helo", candidates)
	require.Equal(t, []string{"world", "hello"}, candidates)
}

func TestNew_InvalidThresholdFallsBack(t *testing.T) {
	require.Equal(t, DefaultThreshold, New(0).Threshold)
	require.Equal(t, DefaultThreshold, New(-1).Threshold)
	require.Equal(t, DefaultThreshold, New(1.5).Threshold)
	require.Equal(t, 0.9, New(0.9).Threshold)
}

func TestScore(t *testing.T) {
	require.Equal(t, 1.0, Score("abc", "abc"))
	require.Equal(t, 0.0, Score("abc", "xyz"))
	require.InDelta(t, 0.75, Score("help", "helo"), 1e-9)
}
