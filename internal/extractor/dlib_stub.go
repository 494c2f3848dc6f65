//go:build !dlib

package extractor

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// ErrDlibUnavailable is returned when the binary was built without the dlib tag.
var ErrDlibUnavailable = errors.New("extractor: built without dlib support (rebuild with -tags dlib)")

// DlibExtractor is unavailable in this build.
type DlibExtractor struct{}

// NewDlibExtractor always fails without the dlib build tag.
func NewDlibExtractor(modelsDir string, maxImageSize int) (*DlibExtractor, error) {
	return nil, ErrDlibUnavailable
}

// Close implements io.Closer.
func (e *DlibExtractor) Close() error { return nil }

// Extract implements fingerprint.Extractor.
func (e *DlibExtractor) Extract(ctx context.Context, data []byte) ([]fingerprint.FaceEmbedding, error) {
	return nil, ErrDlibUnavailable
}
