package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

func newMatchEnv(t *testing.T, index bool) (*testEnv, *MatchHandler) {
	t.Helper()
	env := newTestEnv(t, index)
	env.addPhoto("a", testFace(0.1, 40))
	env.addPhoto("b", testFace(0.3, 40), testFace(0.8, 20))
	env.addPhoto("c", testFace(0.9, 40))
	env.sync(t)
	return env, NewMatchHandler(testConfig(), env.cache, env.extractor, quietLogger())
}

func TestMatchHandler_Match(t *testing.T) {
	env, handler := newMatchEnv(t, false)
	selfie := []byte("selfie")
	env.extractor.SetFaces(selfie, testFace(0, 50))

	recorder := httptest.NewRecorder()
	handler.Match(recorder, selfieRequest(t, selfie, map[string]string{"tolerance": "0.5"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var result MatchResponse
	parseJSONResponse(t, recorder, &result)

	if result.Count != 2 || len(result.Matches) != 2 {
		t.Fatalf("got %d matches; want 2: %+v", result.Count, result.Matches)
	}
	if result.Matches[0].Identity != "a" || result.Matches[1].Identity != "b" {
		t.Errorf("order = %s, %s; want a, b", result.Matches[0].Identity, result.Matches[1].Identity)
	}
	if result.Matches[0].Name != "a.jpg" {
		t.Errorf("Name = %q; want a.jpg", result.Matches[0].Name)
	}
	if result.Matches[0].Confidence != 90 {
		t.Errorf("Confidence = %v; want 90", result.Matches[0].Confidence)
	}
	if result.Tolerance != 0.5 || result.Approximate {
		t.Errorf("Tolerance/Approximate = %v/%v", result.Tolerance, result.Approximate)
	}
}

func TestMatchHandler_DefaultToleranceAndLimit(t *testing.T) {
	env, handler := newMatchEnv(t, false)
	selfie := []byte("selfie")
	env.extractor.SetFaces(selfie, testFace(0, 50))

	recorder := httptest.NewRecorder()
	handler.Match(recorder, selfieRequest(t, selfie, map[string]string{"limit": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var result MatchResponse
	parseJSONResponse(t, recorder, &result)
	if result.Tolerance != 0.5 {
		t.Errorf("Tolerance = %v; want default 0.5", result.Tolerance)
	}
	if result.Count != 1 || result.Matches[0].Identity != "a" {
		t.Errorf("matches = %+v; want only a", result.Matches)
	}
}

func TestMatchHandler_UsesLargestSelfieFace(t *testing.T) {
	env, handler := newMatchEnv(t, false)
	selfie := []byte("group selfie")
	env.extractor.SetFaces(selfie, testFace(0.9, 10), testFace(0.1, 60))

	recorder := httptest.NewRecorder()
	handler.Match(recorder, selfieRequest(t, selfie, map[string]string{"tolerance": "0.3"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var result MatchResponse
	parseJSONResponse(t, recorder, &result)
	if result.FacesInSelfie != 2 || result.SelfieFace.Right != 60 {
		t.Errorf("selfie faces = %d, used box %+v; want 2 and the 60px face", result.FacesInSelfie, result.SelfieFace)
	}
	// The large face is closest to a; the small one would put c first.
	if result.Count != 2 || result.Matches[0].Identity != "a" {
		t.Errorf("matches = %+v; want a first", result.Matches)
	}
}

func TestMatchHandler_Errors(t *testing.T) {
	env, handler := newMatchEnv(t, false)
	env.extractor.SetFaces([]byte("good"), testFace(0, 50))
	env.extractor.SetFaces([]byte("wrong model"), fingerprint.FaceEmbedding{Vector: []float32{0, 0, 0}})
	env.extractor.SetUndecodable([]byte("garbage"))

	tests := []struct {
		name     string
		selfie   []byte
		fields   map[string]string
		status   int
		errorMsg string
	}{
		{"missing selfie", nil, nil, http.StatusBadRequest, "selfie is required"},
		{"tolerance not a number", []byte("good"), map[string]string{"tolerance": "abc"}, http.StatusBadRequest, "tolerance must be a number"},
		{"tolerance out of range", []byte("good"), map[string]string{"tolerance": "0.9"}, http.StatusBadRequest, ""},
		{"bad limit", []byte("good"), map[string]string{"limit": "-1"}, http.StatusBadRequest, "limit must be a non-negative integer"},
		{"no face", []byte("landscape"), nil, http.StatusUnprocessableEntity, "no face detected in selfie"},
		{"undecodable", []byte("garbage"), nil, http.StatusUnprocessableEntity, "selfie could not be read as an image"},
		{"dimension mismatch", []byte("wrong model"), nil, http.StatusConflict, ""},
		{"approx without index", []byte("good"), map[string]string{"approx": "true"}, http.StatusBadRequest, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Match(recorder, selfieRequest(t, tc.selfie, tc.fields))

			assertStatusCode(t, recorder, tc.status)
			if tc.errorMsg != "" {
				assertJSONError(t, recorder, tc.errorMsg)
			}
		})
	}
}

func TestMatchHandler_ExtractorOutage(t *testing.T) {
	env, handler := newMatchEnv(t, false)
	env.extractor.Error = errors.New("connection refused")

	recorder := httptest.NewRecorder()
	handler.Match(recorder, selfieRequest(t, []byte("selfie"), nil))

	assertStatusCode(t, recorder, http.StatusBadGateway)
}

func TestMatchHandler_Approximate(t *testing.T) {
	env, handler := newMatchEnv(t, true)
	selfie := []byte("selfie")
	env.extractor.SetFaces(selfie, testFace(0, 50))

	recorder := httptest.NewRecorder()
	handler.Match(recorder, selfieRequest(t, selfie, map[string]string{"approx": "true", "tolerance": "0.5"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var result MatchResponse
	parseJSONResponse(t, recorder, &result)
	if !result.Approximate {
		t.Error("expected approximate response")
	}
	if result.Count != 2 || result.Matches[0].Identity != "a" {
		t.Errorf("matches = %+v; want a and b", result.Matches)
	}
}

func TestMatchHandler_EmptyCache(t *testing.T) {
	env := newTestEnv(t, false)
	selfie := []byte("selfie")
	env.extractor.SetFaces(selfie, testFace(0, 50))
	handler := NewMatchHandler(testConfig(), env.cache, env.extractor, quietLogger())

	recorder := httptest.NewRecorder()
	handler.Match(recorder, selfieRequest(t, selfie, nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result MatchResponse
	parseJSONResponse(t, recorder, &result)
	if result.Count != 0 || result.Matches == nil {
		t.Errorf("expected empty match list, got %+v", result.Matches)
	}
}
