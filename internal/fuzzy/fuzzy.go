// Package fuzzy implements partial-ratio Levenshtein similarity scoring
// for free-text package search, per spec.md §4.G.
package fuzzy

import "sort"

// FilterThreshold is the score below-or-equal which rows are dropped once
// a search term is present.
const FilterThreshold = 55

// PartialRatio returns a similarity score in [0,100] between needle and
// the best-aligned substring of haystack of needle's length, the classic
// "partial ratio" fuzzy-matching measure.
func PartialRatio(needle, haystack string) int {
	n := []rune(needle)
	h := []rune(haystack)

	if len(n) == 0 {
		return 100
	}
	if len(h) == 0 {
		return 0
	}
	if len(h) < len(n) {
		n, h = h, n
	}

	best := 0
	for start := 0; start+len(n) <= len(h); start++ {
		window := h[start : start+len(n)]
		if score := ratio(n, window); score > best {
			best = score
		}
	}
	return best
}

// ratio converts Levenshtein edit distance into a 0-100 similarity score
// the way the classic partial-ratio formula does:
// 100 * (1 - distance/maxLen).
func ratio(a, b []rune) int {
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	score := 100 * (maxLen - dist) / maxLen
	if score < 0 {
		return 0
	}
	return score
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// Scored is a row paired with its search score.
type Scored[T any] struct {
	Row   T
	Score int
}

// FilterAndSort applies the spec's default search behavior: drop rows
// scoring <= FilterThreshold when search is non-empty, and sort
// descending by score. name(row) extracts the text to score against
// search.
func FilterAndSort[T any](rows []T, search string, name func(T) string) []Scored[T] {
	scored := make([]Scored[T], 0, len(rows))
	for _, row := range rows {
		score := 100
		if search != "" {
			score = PartialRatio(search, name(row))
			if score <= FilterThreshold {
				continue
			}
		}
		scored = append(scored, Scored[T]{Row: row, Score: score})
	}

	if search != "" {
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	}
	return scored
}
