package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultConcurrency is the extraction worker count used when Options leaves it unset.
const DefaultConcurrency = 4

// Options configures a Cache.
type Options struct {
	Source    Source
	Extractor Extractor
	Store     Store

	// VersionTag identifies the extractor model; snapshots with another tag are discarded.
	VersionTag string
	// Dim is the embedding length produced by the extractor.
	Dim int

	Concurrency int
	// BuildIndex enables the approximate index used by FindMatchesApprox.
	BuildIndex bool

	Logger logrus.FieldLogger
}

// LoadStatus describes the outcome of Cache.Load.
type LoadStatus string

const (
	LoadLoaded       LoadStatus = "loaded"
	LoadEmpty        LoadStatus = "empty"
	LoadIncompatible LoadStatus = "incompatible"
)

// LoadResult is returned by Cache.Load.
type LoadResult struct {
	Status  LoadStatus `json:"status"`
	Records int        `json:"records"`
	Faces   int        `json:"faces"`
	Reason  string     `json:"reason,omitempty"`
}

// NeedsRebuild reports whether the persisted cache was discarded.
func (r LoadResult) NeedsRebuild() bool {
	return r.Status == LoadIncompatible
}

// Stats summarizes the committed snapshot.
type Stats struct {
	Records    int       `json:"records"`
	Faces      int       `json:"faces"`
	Failed     int       `json:"failed"`
	VersionTag string    `json:"version_tag"`
	Dim        int       `json:"dim"`
	UpdatedAt  time.Time `json:"updated_at"`
	Indexed    bool      `json:"indexed"`
	Syncing    bool      `json:"syncing"`
}

// state is what readers see. It is replaced as a whole on every commit.
type state struct {
	snap    *Snapshot
	index   *annIndex
	unsaved bool
}

// Cache is the fingerprint cache of one source.
// Sync and ForceRebuild are serialized; readers always see the last committed snapshot.
type Cache struct {
	opts Options
	log  logrus.FieldLogger

	cur atomic.Pointer[state]

	mu       sync.Mutex
	inflight *flight

	fetchMu  sync.Mutex
	fetchers map[string]func(context.Context) ([]byte, error) // from the last listing
	listings uint64
	relistMu sync.Mutex
}

// New creates an empty cache. Call Load to read the persisted snapshot.
func New(opts Options) (*Cache, error) {
	if opts.Source == nil {
		return nil, errors.New("fingerprint: source is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("fingerprint: extractor is required")
	}
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("fingerprint: invalid embedding dimension %d", opts.Dim)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Logger = l
	}

	c := &Cache{
		opts: opts,
		log:  opts.Logger.WithField("component", "fingerprint"),
	}
	c.publish(emptySnapshot(opts.VersionTag, opts.Dim), false)
	return c, nil
}

func (c *Cache) state() *state {
	return c.cur.Load()
}

func (c *Cache) publish(snap *Snapshot, unsaved bool) {
	st := &state{snap: snap, unsaved: unsaved}
	if c.opts.BuildIndex {
		st.index = buildIndex(snap)
	}
	c.cur.Store(st)
}

// Load reads the persisted snapshot. A missing, unreadable or incompatible
// store leaves the cache empty; only context errors are returned.
// Load must not run concurrently with Sync.
func (c *Cache) Load(ctx context.Context) (LoadResult, error) {
	if c.opts.Store == nil {
		return LoadResult{Status: LoadEmpty}, nil
	}

	snap, err := c.opts.Store.Load(ctx)
	switch {
	case errors.Is(err, ErrStoreEmpty):
		c.log.Info("no persisted fingerprint cache")
		return LoadResult{Status: LoadEmpty}, nil
	case ctx.Err() != nil:
		return LoadResult{}, ctx.Err()
	case err != nil:
		c.log.WithError(err).Warn("persisted fingerprint cache is unreadable, starting empty")
		return LoadResult{Status: LoadIncompatible, Reason: err.Error()}, nil
	}

	if snap.VersionTag != c.opts.VersionTag || snap.Dim != c.opts.Dim {
		reason := fmt.Sprintf("%v: stored %s/%d, extractor %s/%d", ErrCacheIncompatible,
			snap.VersionTag, snap.Dim, c.opts.VersionTag, c.opts.Dim)
		c.log.WithFields(logrus.Fields{
			"stored_version": snap.VersionTag,
			"stored_dim":     snap.Dim,
		}).Warn("persisted fingerprint cache is incompatible, starting empty")
		return LoadResult{Status: LoadIncompatible, Reason: reason}, nil
	}
	if bad := firstBadVector(snap); bad != nil {
		c.log.WithError(bad).Warn("persisted fingerprint cache has foreign vectors, starting empty")
		return LoadResult{Status: LoadIncompatible, Reason: bad.Error()}, nil
	}

	snap.index()
	c.publish(snap, false)

	res := LoadResult{Status: LoadLoaded, Records: snap.Len(), Faces: snap.FaceCount()}
	c.log.WithFields(logrus.Fields{"records": res.Records, "faces": res.Faces}).Info("fingerprint cache loaded")
	if res.Records > 0 && res.Faces == 0 {
		c.log.Warn("no faces indexed")
	}
	return res, nil
}

func firstBadVector(snap *Snapshot) error {
	for id, emb := range snap.AllEmbeddings() {
		if len(emb.Vector) != snap.Dim {
			return fmt.Errorf("%w: %s has %d-dim vector", ErrCacheIncompatible, id, len(emb.Vector))
		}
	}
	return nil
}

// Snapshot returns the last committed snapshot.
func (c *Cache) Snapshot() *Snapshot {
	return c.state().snap
}

// AllEmbeddings iterates the last committed snapshot.
func (c *Cache) AllEmbeddings() iter.Seq2[string, FaceEmbedding] {
	return c.state().snap.AllEmbeddings()
}

// Stats summarizes the committed snapshot.
func (c *Cache) Stats() Stats {
	st := c.state()
	s := Stats{
		Records:    st.snap.Len(),
		Faces:      st.snap.FaceCount(),
		VersionTag: st.snap.VersionTag,
		Dim:        st.snap.Dim,
		UpdatedAt:  st.snap.UpdatedAt,
		Indexed:    st.index != nil && st.index.graph != nil,
	}
	for _, rec := range st.snap.Entries {
		if rec.Failure != "" {
			s.Failed++
		}
	}
	c.mu.Lock()
	s.Syncing = c.inflight != nil
	c.mu.Unlock()
	return s
}

// FindMatches runs an exact match against the committed snapshot and fills in names.
func (c *Cache) FindMatches(query []float32, tol Tolerance) ([]QueryResult, error) {
	snap := c.state().snap
	results, err := FindMatches(snap, query, tol)
	if err != nil {
		return nil, err
	}
	attachNames(snap, results)
	return results, nil
}

// FindMatchesApprox returns at most k matches using the approximate index.
// It returns ErrIndexDisabled when the cache was created without BuildIndex.
func (c *Cache) FindMatchesApprox(query []float32, tol Tolerance, k int) ([]QueryResult, error) {
	st := c.state()
	if st.index == nil {
		return nil, ErrIndexDisabled
	}
	results, err := st.index.search(query, tol, k)
	if err != nil {
		return nil, err
	}
	attachNames(st.snap, results)
	return results, nil
}
