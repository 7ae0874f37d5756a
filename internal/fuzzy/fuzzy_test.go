package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartialRatioExactMatchIsPerfect(t *testing.T) {
	assert.Equal(t, 100, PartialRatio("boost", "boost"))
}

func TestPartialRatioFindsSubstring(t *testing.T) {
	assert.Equal(t, 100, PartialRatio("boost", "lib-boost-dev"))
}

func TestPartialRatioUnrelatedStringsScoreLow(t *testing.T) {
	assert.Less(t, PartialRatio("zzzzz", "boost"), 50)
}

func TestFilterAndSortDropsLowScoresWhenSearchPresent(t *testing.T) {
	rows := []string{"boost", "zlib", "boost-filesystem"}
	scored := FilterAndSort(rows, "boost", func(s string) string { return s })

	for _, s := range scored {
		assert.Greater(t, s.Score, FilterThreshold)
	}
	assert.True(t, len(scored) >= 1)
	// descending by score
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Score, scored[i].Score)
	}
}

func TestFilterAndSortKeepsAllRowsWithoutSearch(t *testing.T) {
	rows := []string{"boost", "zlib"}
	scored := FilterAndSort(rows, "", func(s string) string { return s })
	assert.Len(t, scored, 2)
}
