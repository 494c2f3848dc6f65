// Package database holds the persistent stores of the fingerprint cache.
package database

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// fileFormatVersion changes whenever the on-disk layout changes.
const fileFormatVersion = 1

type fileHeader struct {
	Format     int
	VersionTag string
	Dim        int
	Count      int
	SavedAt    time.Time
}

// FileStore keeps the cache in a single gzip-compressed gob file.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path. Parent directories are created on save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the cache file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements fingerprint.Store.
func (s *FileStore) Load(ctx context.Context) (*fingerprint.Snapshot, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fingerprint.ErrStoreEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	dec := gob.NewDecoder(zr)
	var hdr fileHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("decode cache header: %w", err)
	}
	if hdr.Format != fileFormatVersion {
		return nil, fmt.Errorf("unsupported cache file format %d", hdr.Format)
	}

	records := make([]*fingerprint.ImageRecord, 0, hdr.Count)
	for i := range hdr.Count {
		if i%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var rec fingerprint.ImageRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		if rec.Embeddings == nil {
			rec.Embeddings = []fingerprint.FaceEmbedding{}
		}
		records = append(records, &rec)
	}

	snap := fingerprint.NewSnapshot(hdr.VersionTag, hdr.Dim, records)
	snap.UpdatedAt = hdr.SavedAt
	return snap, nil
}

// Save implements fingerprint.Store. The file is written next to the
// destination and renamed over it, so a failed save leaves the old file intact.
func (s *FileStore) Save(ctx context.Context, snap *fingerprint.Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	pf, err := renameio.TempFile(dir, s.path)
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer pf.Cleanup()

	if err := encodeSnapshot(ctx, pf, snap); err != nil {
		return err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func encodeSnapshot(ctx context.Context, w io.Writer, snap *fingerprint.Snapshot) error {
	bw := bufio.NewWriter(w)
	zw := gzip.NewWriter(bw)
	enc := gob.NewEncoder(zw)

	hdr := fileHeader{
		Format:     fileFormatVersion,
		VersionTag: snap.VersionTag,
		Dim:        snap.Dim,
		Count:      snap.Len(),
		SavedAt:    snap.UpdatedAt,
	}
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("encode cache header: %w", err)
	}
	for i, rec := range snap.Records() {
		if i%1000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Identity, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close gzip stream: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush cache file: %w", err)
	}
	return nil
}
