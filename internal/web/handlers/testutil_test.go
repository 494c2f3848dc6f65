package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

const testDim = 4

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Source:    config.SourceConfig{Kind: config.SourceLocal},
		Embedding: config.EmbeddingConfig{Kind: config.ExtractorHTTP, Dim: testDim, Model: "test-v1"},
		Cache:     config.CacheConfig{Backend: config.BackendFile},
		Match: config.MatchConfig{
			Range:     fingerprint.DefaultToleranceRange,
			Tolerance: 0.5,
			Step:      0.05,
			Limit:     50,
		},
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testEnv is a cache wired to in-memory collaborators.
type testEnv struct {
	source    *mock.MockSource
	extractor *mock.MockExtractor
	store     *mock.MockStore
	cache     *fingerprint.Cache
}

func newTestEnv(t *testing.T, index bool) *testEnv {
	t.Helper()
	env := &testEnv{
		source:    mock.NewMockSource(),
		extractor: mock.NewMockExtractor(),
		store:     mock.NewMockStore(),
	}
	c, err := fingerprint.New(fingerprint.Options{
		Source:     env.source,
		Extractor:  env.extractor,
		Store:      env.store,
		VersionTag: "test-v1",
		Dim:        testDim,
		BuildIndex: index,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("fingerprint.New failed: %v", err)
	}
	env.cache = c
	return env
}

// testFace is a face at distance x from the zero vector.
func testFace(x float32, width int) fingerprint.FaceEmbedding {
	return fingerprint.FaceEmbedding{
		Vector: []float32{x, 0, 0, 0},
		Box:    fingerprint.BoundingBox{Right: width, Bottom: width},
	}
}

// addPhoto registers a source photo with the given faces.
func (e *testEnv) addPhoto(id string, faces ...fingerprint.FaceEmbedding) {
	data := []byte("photo:" + id)
	e.source.Put(id, "r1", data)
	e.extractor.SetFaces(data, faces...)
}

func (e *testEnv) sync(t *testing.T) {
	t.Helper()
	if _, err := e.cache.Sync(context.Background(), nil); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

// selfieRequest builds a multipart match request.
func selfieRequest(t *testing.T, selfie []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if selfie != nil {
		part, err := mw.CreateFormFile("selfie", "me.jpg")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(selfie)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/match", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
