package fingerprint

import (
	"cmp"
	"slices"
)

// FindMatches scans every embedding of source and returns the images whose
// closest face lies within tol of query. Each image appears at most once,
// with the distance of its best face. Results are sorted by ascending
// distance, ties ordered by identity. An empty source yields an empty slice.
func FindMatches(source EmbeddingSource, query []float32, tol Tolerance) ([]QueryResult, error) {
	best := make(map[string]QueryResult)
	limit := tol.Float64()

	for id, emb := range source.AllEmbeddings() {
		d, err := EuclideanDistance(query, emb.Vector)
		if err != nil {
			return nil, err
		}
		if !(d <= limit) { // also drops NaN
			continue
		}
		if cur, ok := best[id]; ok && cur.Distance <= d {
			continue
		}
		best[id] = QueryResult{Identity: id, Distance: d, Box: emb.Box}
	}

	results := make([]QueryResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sortResults(results)
	return results, nil
}

func sortResults(results []QueryResult) {
	slices.SortFunc(results, func(a, b QueryResult) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Identity, b.Identity)
	})
}

// attachNames fills result names from the snapshot records.
func attachNames(snap *Snapshot, results []QueryResult) {
	for i := range results {
		if rec, ok := snap.Entries[results[i].Identity]; ok {
			results[i].Name = rec.Name
		}
	}
}
