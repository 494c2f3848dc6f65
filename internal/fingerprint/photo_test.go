package fingerprint_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

func TestCache_Photo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	data := f.putImage("img00", "r1", 0.1)
	mustSync(t, f.cache)

	rec, got, err := f.cache.Photo(ctx, "img00")
	if err != nil {
		t.Fatalf("Photo failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Photo data = %q; want %q", got, data)
	}
	if rec.Name != "img00.jpg" {
		t.Errorf("record name = %q; want img00.jpg", rec.Name)
	}
	if n := f.source.FetchCount("img00"); n != 2 {
		t.Errorf("FetchCount = %d; want 2 (sync and photo)", n)
	}

	if _, _, err := f.cache.Photo(ctx, "missing"); !errors.Is(err, fingerprint.ErrUnknownImage) {
		t.Errorf("unknown identity error = %v; want ErrUnknownImage", err)
	}

	// Listed by the source but not committed yet.
	f.putImage("img01", "r1", 0.2)
	if _, _, err := f.cache.Photo(ctx, "img01"); !errors.Is(err, fingerprint.ErrUnknownImage) {
		t.Errorf("uncommitted identity error = %v; want ErrUnknownImage", err)
	}
}

func TestCache_Photo_AfterLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	mustSync(t, f.cache)

	loaded := f.newCache(t, false)
	if _, err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, got, err := loaded.Photo(ctx, "img01"); err != nil || len(got) == 0 {
		t.Errorf("Photo after load = %d bytes, %v; want data", len(got), err)
	}

	f.source.Remove("img00")
	gone := f.newCache(t, false)
	if _, err := gone.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, _, err := gone.Photo(ctx, "img00"); !errors.Is(err, fingerprint.ErrUnknownImage) {
		t.Errorf("removed photo error = %v; want ErrUnknownImage", err)
	}

	f.source.ListError = errors.New("connection refused")
	down := f.newCache(t, false)
	if _, err := down.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, _, err := down.Photo(ctx, "img01"); !errors.Is(err, fingerprint.ErrSourceUnavailable) {
		t.Errorf("source down error = %v; want ErrSourceUnavailable", err)
	}
}

func TestCache_Photo_FailingDownload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	mustSync(t, f.cache)

	f.source.FetchErrors["img00"] = errors.New("link expired")
	if _, _, err := f.cache.Photo(ctx, "img00"); !errors.Is(err, fingerprint.ErrSourceUnavailable) {
		t.Errorf("error = %v; want ErrSourceUnavailable", err)
	}
	// One try with the remembered handle, one after relisting.
	if n := f.source.FetchCount("img00"); n != 3 {
		t.Errorf("FetchCount = %d; want 3", n)
	}

	delete(f.source.FetchErrors, "img00")
	if _, _, err := f.cache.Photo(ctx, "img00"); err != nil {
		t.Errorf("Photo after recovery failed: %v", err)
	}
}
