package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Phase names a stage of a sync run.
type Phase string

const (
	PhaseListing    Phase = "listing"
	PhaseExtracting Phase = "extracting"
	PhasePersisting Phase = "persisting"
)

// ProgressEvent reports sync progress. Done and Total count images to extract.
type ProgressEvent struct {
	Phase    Phase  `json:"phase"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
	Identity string `json:"identity,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(ProgressEvent)

// SyncReport summarizes a committed sync run.
type SyncReport struct {
	Forced    bool          `json:"forced"`
	Listed    int           `json:"listed"`
	Added     int           `json:"added"`
	Updated   int           `json:"updated"`
	Removed   int           `json:"removed"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Faces     int           `json:"faces"`
	Duration  time.Duration `json:"duration"`
	// PersistErr wraps ErrStoreWrite when the committed snapshot could not be saved.
	PersistErr error `json:"-"`
}

// Changed reports whether the run modified the snapshot.
func (r *SyncReport) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// flight is one running sync shared by every caller that joins it.
type flight struct {
	done   chan struct{}
	force  bool
	report *SyncReport
	err    error
}

// Sync brings the cache in line with the current source listing. Only new
// images and images with a changed revision are extracted.
//
// A call made while another run is in flight waits for it and returns its result.
// On error the committed snapshot is left untouched.
func (c *Cache) Sync(ctx context.Context, progress ProgressFunc) (*SyncReport, error) {
	return c.run(ctx, false, progress)
}

// ForceRebuild re-extracts every listed image regardless of its revision.
// A rebuild requested during a plain sync waits for it and then runs.
func (c *Cache) ForceRebuild(ctx context.Context, progress ProgressFunc) (*SyncReport, error) {
	return c.run(ctx, true, progress)
}

func (c *Cache) run(ctx context.Context, force bool, progress ProgressFunc) (*SyncReport, error) {
	for {
		c.mu.Lock()
		if f := c.inflight; f != nil {
			c.mu.Unlock()
			select {
			case <-f.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if isContextErr(f.err) && ctx.Err() == nil {
				// The leader was cancelled, not us.
				continue
			}
			if f.force || !force {
				return f.report, f.err
			}
			continue
		}

		f := &flight{done: make(chan struct{}), force: force}
		c.inflight = f
		c.mu.Unlock()

		f.report, f.err = c.execute(ctx, force, progress)

		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		close(f.done)
		return f.report, f.err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type extractJob struct {
	img    SourceImage
	prev   *ImageRecord
	result *ImageRecord
}

func (c *Cache) execute(ctx context.Context, force bool, progress ProgressFunc) (*SyncReport, error) {
	start := time.Now()
	log := c.log.WithField("forced", force)
	emit := serialize(progress)

	emit(ProgressEvent{Phase: PhaseListing})
	listing, err := c.opts.Source.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: listing: %w", ErrSourceUnavailable, err)
	}
	c.remember(listing)

	prev := c.state()
	report := &SyncReport{Forced: force, Listed: len(listing)}

	records := make([]*ImageRecord, 0, len(listing))
	var jobs []*extractJob
	seen := make(map[string]struct{}, len(listing))
	renamed := false
	for _, img := range listing {
		if _, dup := seen[img.Identity]; dup {
			log.WithField("identity", img.Identity).Warn("duplicate identity in source listing, ignored")
			continue
		}
		seen[img.Identity] = struct{}{}

		old := prev.snap.Entries[img.Identity]
		if !force && old != nil && old.Revision == img.Revision {
			if old.Name != img.Name {
				cp := *old
				cp.Name = img.Name
				old = &cp
				renamed = true
			}
			records = append(records, old)
			report.Unchanged++
			continue
		}
		jobs = append(jobs, &extractJob{img: img, prev: old})
	}
	for id := range prev.snap.Entries {
		if _, ok := seen[id]; !ok {
			report.Removed++
		}
	}

	log.WithFields(logrus.Fields{
		"listed":    report.Listed,
		"extract":   len(jobs),
		"unchanged": report.Unchanged,
		"removed":   report.Removed,
	}).Info("sync planned")

	if err := c.extractAll(ctx, jobs, emit); err != nil {
		log.WithError(err).Warn("sync aborted, keeping previous snapshot")
		return nil, err
	}

	for _, j := range jobs {
		records = append(records, j.result)
		switch {
		case j.prev == nil:
			report.Added++
		default:
			report.Updated++
		}
		if j.result.Failure != "" {
			report.Failed++
		}
	}

	// Nothing to commit on an idempotent run unless a previous save failed.
	if !force && !report.Changed() && !renamed && !prev.unsaved {
		report.Faces = prev.snap.FaceCount()
		report.Duration = time.Since(start)
		log.WithField("faces", report.Faces).Info("fingerprint cache up to date")
		return report, nil
	}

	snap := NewSnapshot(c.opts.VersionTag, c.opts.Dim, records)
	report.Faces = snap.FaceCount()
	c.publish(snap, true)

	emit(ProgressEvent{Phase: PhasePersisting, Done: len(jobs), Total: len(jobs)})
	if err := c.persist(context.WithoutCancel(ctx), snap); err != nil {
		report.PersistErr = err
		log.WithError(err).Warn("fingerprint cache not persisted, changes are kept in memory only")
	}

	report.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"added":   report.Added,
		"updated": report.Updated,
		"removed": report.Removed,
		"failed":  report.Failed,
		"faces":   report.Faces,
	}).Info("sync committed")
	if snap.Len() > 0 && report.Faces == 0 {
		log.Warn("no faces indexed")
	}
	return report, nil
}

func (c *Cache) persist(ctx context.Context, snap *Snapshot) error {
	if c.opts.Store == nil {
		return nil
	}
	if err := c.opts.Store.Save(ctx, snap); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	// Mark as saved only if no newer commit replaced this snapshot meanwhile.
	if st := c.state(); st.snap == snap {
		c.cur.CompareAndSwap(st, &state{snap: st.snap, index: st.index})
	}
	return nil
}

// extractAll fetches and extracts jobs on a bounded worker pool. It returns
// the first fatal error; per-image extraction failures are stored in the job.
func (c *Cache) extractAll(ctx context.Context, jobs []*extractJob, emit ProgressFunc) error {
	if len(jobs) == 0 {
		return ctx.Err()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	total := len(jobs)
	emit(ProgressEvent{Phase: PhaseExtracting, Total: total})

	var (
		wg   sync.WaitGroup
		done atomic.Int32
		sem  = make(chan struct{}, c.opts.Concurrency)
	)

	for _, j := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(j *extractJob) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := c.extractOne(ctx, j.img)
			if err != nil {
				cancel(err)
				return
			}
			j.result = rec
			n := int(done.Add(1))
			emit(ProgressEvent{Phase: PhaseExtracting, Done: n, Total: total, Identity: j.img.Identity, Failed: rec.Failure != ""})
		}(j)
	}
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return nil
}

func (c *Cache) extractOne(ctx context.Context, img SourceImage) (*ImageRecord, error) {
	log := c.log.WithField("identity", img.Identity)

	rec := &ImageRecord{
		Identity:  img.Identity,
		Name:      img.Name,
		Revision:  img.Revision,
		ScannedAt: time.Now().UTC(),
	}
	failed := func(err error) (*ImageRecord, error) {
		log.WithError(err).Warn("extraction failed, recording image without faces")
		rec.Failure = err.Error()
		rec.Embeddings = []FaceEmbedding{}
		return rec, nil
	}

	data, err := img.Fetch(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrExtraction):
		// the source rejected this one image (e.g. oversized)
		return failed(err)
	default:
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrSourceUnavailable, img.Identity, err)
	}

	faces, err := c.opts.Extractor.Extract(ctx, data)
	switch {
	case err == nil:
	case errors.Is(err, ErrExtraction):
		return failed(err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("extracting %s: %w", img.Identity, err)
	}

	for _, f := range faces {
		if len(f.Vector) != c.opts.Dim {
			return nil, fmt.Errorf("%w: extractor returned %d-dim vector for %s, cache holds %d",
				ErrCacheIncompatible, len(f.Vector), img.Identity, c.opts.Dim)
		}
	}
	if faces == nil {
		faces = []FaceEmbedding{}
	}
	rec.Embeddings = faces
	log.WithField("faces", len(faces)).Debug("image extracted")
	return rec, nil
}

func serialize(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(ProgressEvent) {}
	}
	var mu sync.Mutex
	return func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		fn(ev)
	}
}
