// Package abimatch scores and ranks cached archives by how many ABI
// inputs disagree with a candidate descriptor, per spec.md §4.F.
package abimatch

import (
	"sort"

	"github.com/vcachehq/server/internal/archive"
)

// Candidate is one scored archive.
type Candidate struct {
	Info  archive.Info
	Score int
}

// Mismatches counts keys present in only one map, or present in both with
// unequal values.
func Mismatches(a, b []archive.KV) int {
	av := toMap(a)
	bv := toMap(b)

	count := 0
	for k, v := range av {
		if bvv, ok := bv[k]; !ok || bvv != v {
			count++
		}
	}
	for k := range bv {
		if _, ok := av[k]; !ok {
			count++
		}
	}
	return count
}

func toMap(kvs []archive.KV) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

// Match scores every infos entry with a matching package against
// targetAbi and returns the top n ranked ascending by mismatch count.
func Match(infos []archive.Info, pkg string, targetAbi []archive.KV, n int) []Candidate {
	var candidates []Candidate
	for _, info := range infos {
		if info.Package != pkg {
			continue
		}
		candidates = append(candidates, Candidate{Info: info, Score: Mismatches(info.Abi, targetAbi)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// DiffRow is one rendered row of a Diff.
type DiffRow struct {
	Key         string
	TargetValue string
	SourceValue string
	InTarget    bool
	InSource    bool
}

// Diff pairs the union of keys between target and source, emitting one
// row per key describing agreement/disagreement.
func Diff(target, source []archive.KV) []DiffRow {
	tv := toMap(target)
	sv := toMap(source)

	keys := make(map[string]struct{}, len(tv)+len(sv))
	for k := range tv {
		keys[k] = struct{}{}
	}
	for k := range sv {
		keys[k] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	rows := make([]DiffRow, 0, len(ordered))
	for _, k := range ordered {
		tval, tok := tv[k]
		sval, sok := sv[k]
		rows = append(rows, DiffRow{
			Key:         k,
			TargetValue: tval,
			SourceValue: sval,
			InTarget:    tok,
			InSource:    sok,
		})
	}
	return rows
}
