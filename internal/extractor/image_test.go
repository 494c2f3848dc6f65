package extractor

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		size          int
		width, height int
	}{
		{"landscape png", encodePNGBytes(t, createTestImage(400, 200)), 100, 100, 50},
		{"portrait jpeg", encodeJPEGBytes(t, createTestImage(300, 600)), 120, 60, 120},
		{"already small", encodePNGBytes(t, createTestImage(50, 20)), 100, 50, 20},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			thumb, err := Thumbnail(tc.data, tc.size)
			if err != nil {
				t.Fatalf("Thumbnail failed: %v", err)
			}
			cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
			if err != nil {
				t.Fatalf("thumbnail does not decode: %v", err)
			}
			if format != "jpeg" {
				t.Errorf("format = %s; want jpeg", format)
			}
			if cfg.Width != tc.width || cfg.Height != tc.height {
				t.Errorf("size = %dx%d; want %dx%d", cfg.Width, cfg.Height, tc.width, tc.height)
			}
		})
	}
}

func TestThumbnail_Errors(t *testing.T) {
	if _, err := Thumbnail([]byte("not an image"), 100); !errors.Is(err, fingerprint.ErrExtraction) {
		t.Errorf("undecodable error = %v; want ErrExtraction", err)
	}
	if _, err := Thumbnail(encodePNGBytes(t, createTestImage(10, 10)), 0); err == nil {
		t.Error("expected error for zero size")
	}
}
