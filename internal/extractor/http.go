package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

const defaultEmbeddingURL = "http://localhost:8000"

// HTTPExtractor computes face embeddings using the embedding server's
// /embed/face endpoint.
type HTTPExtractor struct {
	baseURL      string
	maxImageSize int
	client       *http.Client
	log          logrus.FieldLogger
}

// HTTPOption configures an HTTPExtractor.
type HTTPOption func(*HTTPExtractor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExtractor) { e.client = c }
}

// WithMaxImageSize sets the longest side images are downscaled to before upload.
func WithMaxImageSize(n int) HTTPOption {
	return func(e *HTTPExtractor) { e.maxImageSize = n }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) HTTPOption {
	return func(e *HTTPExtractor) { e.log = l }
}

// NewHTTPExtractor creates a new embedding server client.
func NewHTTPExtractor(baseURL string, opts ...HTTPOption) *HTTPExtractor {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	e := &HTTPExtractor{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxImageSize: constants.MaxImageSize,
		client:       &http.Client{Timeout: 2 * time.Minute},
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// statusError is a non-200 response of the embedding server.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.code, e.body)
}

// Extract implements fingerprint.Extractor. Images the server rejects with a
// 4xx status are per-image failures; transport errors and 5xx responses are not.
func (e *HTTPExtractor) Extract(ctx context.Context, data []byte) ([]fingerprint.FaceEmbedding, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", fingerprint.ErrExtraction)
	}

	img, err := prepareImage(data, e.maxImageSize, func(format string) bool {
		return format == "jpeg" || format == "png"
	})
	if err != nil {
		// The server may still understand formats we cannot decode (HEIC).
		e.log.WithError(err).Debug("uploading undecoded image")
		img = &preparedImage{data: data, scale: 1}
	}

	body, err := e.postMultipartImage(ctx, "/embed/face", img.data)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
			return nil, fmt.Errorf("%w: %v", fingerprint.ErrExtraction, err)
		}
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]fingerprint.FaceEmbedding, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		faces = append(faces, fingerprint.FaceEmbedding{
			Vector: f.Embedding,
			Box:    scaleBox(bboxFromSlice(f.BBox), img.scale),
		})
	}
	return faces, nil
}

func bboxFromSlice(b []float64) fingerprint.BoundingBox {
	if len(b) != 4 {
		return fingerprint.BoundingBox{}
	}
	return fingerprint.BoundingBox{Left: int(b[0]), Top: int(b[1]), Right: int(b[2]), Bottom: int(b[3])}
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (e *HTTPExtractor) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
