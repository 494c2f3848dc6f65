// Package extractor computes face embeddings for the fingerprint cache.
package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// preparedImage is an image ready for upload to a face detector.
type preparedImage struct {
	data []byte
	// scale maps detector coordinates back to the source image.
	scale float64
}

// prepareImage decodes data and downscales it so that neither side exceeds
// maxSize. Images that decode and fit are passed through unchanged when
// keepFormat accepts their format; everything else is re-encoded as JPEG.
// Undecodable data yields an error wrapping fingerprint.ErrExtraction.
func prepareImage(data []byte, maxSize int, keepFormat func(string) bool) (*preparedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", fingerprint.ErrExtraction, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: empty image", fingerprint.ErrExtraction)
	}

	// Check if resizing is needed.
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		if keepFormat(format) {
			return &preparedImage{data: data, scale: 1}, nil
		}
		out, err := encodeJPEG(img)
		if err != nil {
			return nil, err
		}
		return &preparedImage{data: out, scale: 1}, nil
	}

	resized, scale := downscale(img, maxSize)
	out, err := encodeJPEG(resized)
	if err != nil {
		return nil, err
	}
	return &preparedImage{data: out, scale: scale}, nil
}

// downscale fits img within maxSize on its longer side. The returned scale
// maps pixels of the result back to img.
func downscale(img image.Image, maxSize int) (image.Image, float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return img, 1
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized, float64(width) / float64(newWidth)
}

// Thumbnail decodes a photo and re-encodes it as a JPEG no larger than size
// on its longer side. Smaller photos keep their dimensions.
// Undecodable data yields an error wrapping fingerprint.ErrExtraction.
func Thumbnail(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %d", size)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", fingerprint.ErrExtraction, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", fingerprint.ErrExtraction)
	}
	thumb, _ := downscale(img, size)
	return encodeJPEG(thumb)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleBox maps a box detected on a downscaled image back to source pixels.
func scaleBox(b fingerprint.BoundingBox, scale float64) fingerprint.BoundingBox {
	if scale == 1 {
		return b
	}
	return fingerprint.BoundingBox{
		Left:   int(float64(b.Left) * scale),
		Top:    int(float64(b.Top) * scale),
		Right:  int(float64(b.Right) * scale),
		Bottom: int(float64(b.Bottom) * scale),
	}
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
