// Package fingerprint keeps the face fingerprint cache of a photo source and
// matches query embeddings against it.
package fingerprint

import (
	"context"
	"iter"
	"math"
	"slices"
	"time"
)

// BoundingBox is a face region in source image pixel coordinates.
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Area returns the box area in pixels (0 for degenerate boxes).
func (b BoundingBox) Area() int {
	w := b.Right - b.Left
	h := b.Bottom - b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// FaceEmbedding is one detected face of an image.
type FaceEmbedding struct {
	Vector []float32   `json:"vector"`
	Box    BoundingBox `json:"box"`
}

// LargestFace returns the face with the biggest bounding box.
// It returns ErrNoFace for an empty slice.
func LargestFace(faces []FaceEmbedding) (FaceEmbedding, error) {
	if len(faces) == 0 {
		return FaceEmbedding{}, ErrNoFace
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best, nil
}

// ImageRecord holds the fingerprints of one source photo.
type ImageRecord struct {
	Identity   string          `json:"identity"`
	Name       string          `json:"name,omitempty"`
	Revision   string          `json:"revision"`
	Embeddings []FaceEmbedding `json:"embeddings"`
	Failure    string          `json:"failure,omitempty"` // extraction failure reason, empty on success
	ScannedAt  time.Time       `json:"scanned_at"`
}

// Snapshot is a committed, immutable state of the cache.
// Callers must not modify a snapshot obtained from a Cache.
type Snapshot struct {
	VersionTag string
	Dim        int
	Entries    map[string]*ImageRecord
	UpdatedAt  time.Time

	ids []string // sorted Entries keys
}

// NewSnapshot creates a snapshot from records. Later records win on duplicate identities.
func NewSnapshot(versionTag string, dim int, records []*ImageRecord) *Snapshot {
	entries := make(map[string]*ImageRecord, len(records))
	for _, rec := range records {
		entries[rec.Identity] = rec
	}
	s := &Snapshot{
		VersionTag: versionTag,
		Dim:        dim,
		Entries:    entries,
		UpdatedAt:  time.Now().UTC(),
	}
	s.index()
	return s
}

// emptySnapshot returns a snapshot with no entries.
func emptySnapshot(versionTag string, dim int) *Snapshot {
	return &Snapshot{
		VersionTag: versionTag,
		Dim:        dim,
		Entries:    make(map[string]*ImageRecord),
	}
}

func (s *Snapshot) index() {
	s.ids = make([]string, 0, len(s.Entries))
	for id := range s.Entries {
		s.ids = append(s.ids, id)
	}
	slices.Sort(s.ids)
}

// Identities returns the sorted identities in the snapshot.
func (s *Snapshot) Identities() []string {
	if s.ids == nil && len(s.Entries) > 0 {
		s.index()
	}
	return s.ids
}

// Records returns all records ordered by identity.
func (s *Snapshot) Records() []*ImageRecord {
	ids := s.Identities()
	out := make([]*ImageRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Entries[id])
	}
	return out
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.Entries)
}

// FaceCount returns the number of stored embeddings across all records.
func (s *Snapshot) FaceCount() int {
	n := 0
	for _, rec := range s.Entries {
		n += len(rec.Embeddings)
	}
	return n
}

// AllEmbeddings yields every (identity, embedding) pair ordered by identity.
// Each call iterates the snapshot afresh.
func (s *Snapshot) AllEmbeddings() iter.Seq2[string, FaceEmbedding] {
	return func(yield func(string, FaceEmbedding) bool) {
		for _, id := range s.Identities() {
			for _, emb := range s.Entries[id].Embeddings {
				if !yield(id, emb) {
					return
				}
			}
		}
	}
}

// QueryResult is one matched image.
type QueryResult struct {
	Identity string      `json:"identity"`
	Name     string      `json:"name,omitempty"`
	Distance float64     `json:"distance"`
	Box      BoundingBox `json:"box"`
}

// Confidence converts the distance to the percentage shown to users,
// rounded to one decimal place.
func (r QueryResult) Confidence() float64 {
	return math.Round((1-r.Distance)*1000) / 10
}

// EmbeddingSource provides the embeddings the matcher scans.
type EmbeddingSource interface {
	AllEmbeddings() iter.Seq2[string, FaceEmbedding]
}

// SourceImage is one entry of a source listing.
type SourceImage struct {
	Identity string
	Name     string
	Revision string
	Fetch    func(ctx context.Context) ([]byte, error)
}

// Source enumerates the photos of a folder.
// Identities must be stable across calls for the same logical photo.
type Source interface {
	List(ctx context.Context) ([]SourceImage, error)
}

// Extractor computes face embeddings for an image.
// Errors wrapping ErrExtraction concern only the given image; any other error
// means the extractor itself is unusable.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]FaceEmbedding, error)
}

// Store persists cache snapshots.
type Store interface {
	// Load returns the persisted snapshot or ErrStoreEmpty when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the persisted snapshot atomically.
	Save(ctx context.Context, snap *Snapshot) error
}
