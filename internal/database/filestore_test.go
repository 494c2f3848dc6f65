package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

func sampleSnapshot() *fingerprint.Snapshot {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := fingerprint.NewSnapshot("dlib-v1", 3, []*fingerprint.ImageRecord{
		{
			Identity: "b",
			Name:     "beach.jpg",
			Revision: "42",
			Embeddings: []fingerprint.FaceEmbedding{
				{Vector: []float32{0.1, 0.2, 0.3}, Box: fingerprint.BoundingBox{Left: 1, Top: 2, Right: 3, Bottom: 4}},
			},
			ScannedAt: now,
		},
		{
			Identity:   "a",
			Name:       "broken.heic",
			Revision:   "7",
			Embeddings: []fingerprint.FaceEmbedding{},
			Failure:    "unknown format",
			ScannedAt:  now,
		},
	})
	snap.UpdatedAt = now
	return snap
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cache.gob.gz"))

	if _, err := store.Load(context.Background()); !errors.Is(err, fingerprint.ErrStoreEmpty) {
		t.Errorf("expected ErrStoreEmpty, got %v", err)
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "cache.gob.gz"))
	want := sampleSnapshot()

	if err := store.Save(context.Background(), want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got.VersionTag != want.VersionTag || got.Dim != want.Dim {
		t.Errorf("got %s/%d; want %s/%d", got.VersionTag, got.Dim, want.VersionTag, want.Dim)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v; want %v", got.UpdatedAt, want.UpdatedAt)
	}
	if !reflect.DeepEqual(got.Identities(), []string{"a", "b"}) {
		t.Errorf("Identities = %v", got.Identities())
	}
	for _, id := range want.Identities() {
		w, g := want.Entries[id], got.Entries[id]
		if !reflect.DeepEqual(w.Embeddings, g.Embeddings) || w.Failure != g.Failure || w.Name != g.Name || w.Revision != g.Revision {
			t.Errorf("record %s = %+v; want %+v", id, g, w)
		}
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.gob.gz")
	if err := os.WriteFile(path, []byte("definitely not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path).Load(context.Background())
	if err == nil || errors.Is(err, fingerprint.ErrStoreEmpty) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestFileStore_FailedSaveKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.gob.gz")
	store := NewFileStore(path)
	if err := store.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, sampleSnapshot()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("cache file changed after failed save")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}
