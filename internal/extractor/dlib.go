//go:build dlib

package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// DlibExtractor runs the dlib ResNet face recognizer in process.
// It produces 128-dimensional descriptors.
type DlibExtractor struct {
	// The recognizer is not safe for concurrent use.
	mu           sync.Mutex
	rec          *face.Recognizer
	maxImageSize int
}

// NewDlibExtractor loads the dlib models from modelsDir.
func NewDlibExtractor(modelsDir string, maxImageSize int) (*DlibExtractor, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("can't init face recognizer: %w", err)
	}
	return &DlibExtractor{rec: rec, maxImageSize: maxImageSize}, nil
}

// Close frees the recognizer.
func (e *DlibExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Close()
	return nil
}

// Extract implements fingerprint.Extractor.
func (e *DlibExtractor) Extract(ctx context.Context, data []byte) ([]fingerprint.FaceEmbedding, error) {
	img, err := prepareImage(data, e.maxImageSize, func(format string) bool {
		return format == "jpeg"
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	faces, err := e.rec.Recognize(img.data)
	e.mu.Unlock()
	if err != nil {
		var loadErr face.ImageLoadError
		if errors.As(err, &loadErr) {
			return nil, fmt.Errorf("%w: %v", fingerprint.ErrExtraction, err)
		}
		return nil, fmt.Errorf("recognize faces: %w", err)
	}

	out := make([]fingerprint.FaceEmbedding, 0, len(faces))
	for _, f := range faces {
		vec := make([]float32, len(f.Descriptor))
		copy(vec, f.Descriptor[:])
		r := f.Rectangle
		out = append(out, fingerprint.FaceEmbedding{
			Vector: vec,
			Box: scaleBox(fingerprint.BoundingBox{
				Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y,
			}, img.scale),
		})
	}
	return out, nil
}
