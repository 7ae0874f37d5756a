package abimatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vcachehq/server/internal/archive"
)

func kv(pairs ...string) []archive.KV {
	var out []archive.KV
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, archive.KV{Key: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func TestMismatchesCountsDisagreementsAndMissingKeys(t *testing.T) {
	a := kv("compiler", "gcc", "flag", "x")
	b := kv("compiler", "clang", "extra", "y")
	// compiler disagrees, flag missing in b, extra missing in a => 3
	assert.Equal(t, 3, Mismatches(a, b))
}

func TestMatchOrdersAscendingByScore(t *testing.T) {
	target := kv("a", "1", "b", "2", "c", "3")

	infos := []archive.Info{
		{Package: "foo", SHA: "exact", Abi: kv("a", "1", "b", "2", "c", "3")},
		{Package: "foo", SHA: "two-off", Abi: kv("a", "9", "b", "9", "c", "3")},
		{Package: "foo", SHA: "five-off", Abi: kv("a", "9", "b", "9", "d", "9", "e", "9")},
		{Package: "other", SHA: "wrong-package", Abi: kv("a", "1", "b", "2", "c", "3")},
	}

	got := Match(infos, "foo", target, 3)
	require := assert.New(t)
	require.Len(got, 3)
	require.Equal("exact", got[0].Info.SHA)
	require.Equal(0, got[0].Score)
	require.Equal("two-off", got[1].Info.SHA)
	require.Equal("five-off", got[2].Info.SHA)
}

func TestDiffRendersUnionOfKeys(t *testing.T) {
	target := kv("a", "1", "b", "2")
	source := kv("b", "2", "c", "3")

	rows := Diff(target, source)
	assert.Len(t, rows, 3)

	byKey := map[string]DiffRow{}
	for _, r := range rows {
		byKey[r.Key] = r
	}

	assert.True(t, byKey["a"].InTarget)
	assert.False(t, byKey["a"].InSource)
	assert.True(t, byKey["c"].InSource)
	assert.False(t, byKey["c"].InTarget)
	assert.True(t, byKey["b"].InTarget)
	assert.True(t, byKey["b"].InSource)
}
