package fingerprint

import (
	"github.com/coder/hnsw"
)

const (
	// indexMaxNeighbors is the HNSW M parameter.
	indexMaxNeighbors = 16
	// indexOversample multiplies k to absorb several faces of one image.
	indexOversample = 4
)

type indexedFace struct {
	identity string
	emb      FaceEmbedding
}

// annIndex is an approximate nearest-neighbour index over one snapshot.
// It is built once and never mutated, so concurrent searches are safe.
type annIndex struct {
	graph *hnsw.Graph[int]
	faces []indexedFace
}

func buildIndex(snap *Snapshot) *annIndex {
	idx := &annIndex{}
	if snap.FaceCount() == 0 {
		return idx
	}

	g := hnsw.NewGraph[int]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	idx.faces = make([]indexedFace, 0, snap.FaceCount())
	for id, emb := range snap.AllEmbeddings() {
		g.Add(hnsw.MakeNode(len(idx.faces), emb.Vector))
		idx.faces = append(idx.faces, indexedFace{identity: id, emb: emb})
	}
	idx.graph = g
	return idx
}

// search returns up to k images within tol. Candidate distances are
// recomputed exactly, so the result obeys the same ordering and tolerance
// rules as FindMatches but may miss matches the graph did not visit.
func (idx *annIndex) search(query []float32, tol Tolerance, k int) ([]QueryResult, error) {
	if idx.graph == nil || k <= 0 {
		return []QueryResult{}, nil
	}
	if dim := len(idx.faces[0].emb.Vector); dim != len(query) {
		return nil, &DimensionMismatchError{Want: dim, Got: len(query)}
	}
	if !finite(query) {
		return []QueryResult{}, nil
	}

	neighbors := idx.graph.Search(query, k*indexOversample)
	best := make(map[string]QueryResult, len(neighbors))
	for _, n := range neighbors {
		face := idx.faces[n.Key]
		d, err := EuclideanDistance(query, face.emb.Vector)
		if err != nil {
			return nil, err
		}
		if !(d <= tol.Float64()) {
			continue
		}
		if cur, ok := best[face.identity]; ok && cur.Distance <= d {
			continue
		}
		best[face.identity] = QueryResult{Identity: face.identity, Distance: d, Box: face.emb.Box}
	}

	results := make([]QueryResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
