package photoprism

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sessionJSON = `{
	"id": "sess123",
	"access_token": "tok-abc",
	"config": {"downloadToken": "dl-xyz", "previewToken": "pv-123"},
	"user": {"UID": "us8e94h6pa15hbk7"}
}`

const photosJSON = `[
	{"UID": "pt1", "Hash": "h1", "FileName": "2024/beach.jpg", "OriginalName": "IMG_0001.JPG", "Type": "image"},
	{"UID": "pt2", "Hash": "h2", "FileName": "2024/park.jpg", "Type": "image"}
]`

func setupMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Mock auth endpoint
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sessionJSON))
	})

	// Mock logout endpoint
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Mock get photos endpoint
	mux.HandleFunc("/api/v1/photos", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-abc" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("offset") != "0" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(photosJSON))
	})

	// Mock download endpoint
	mux.HandleFunc("/api/v1/dl/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("t") != "dl-xyz" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write([]byte("file:" + strings.TrimPrefix(r.URL.Path, "/api/v1/dl/")))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAuth(t *testing.T) {
	server := setupMockServer(t)

	pp, err := NewPhotoPrism(context.Background(), server.URL, "test", "test")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}
	if pp.token != "tok-abc" {
		t.Errorf("token = %q; want tok-abc", pp.token)
	}
	if pp.downloadToken != "dl-xyz" {
		t.Errorf("downloadToken = %q; want dl-xyz", pp.downloadToken)
	}
	if pp.userUID != "us8e94h6pa15hbk7" {
		t.Errorf("userUID = %q", pp.userUID)
	}
}

func TestAuth_Failure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	if _, err := NewPhotoPrism(context.Background(), server.URL, "bad", "bad"); err == nil {
		t.Fatal("expected authentication error")
	}
}

func TestGetPhotosWithQuery(t *testing.T) {
	server := setupMockServer(t)
	pp, err := NewPhotoPrism(context.Background(), server.URL+"/", "test", "test")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}

	photos, err := pp.GetPhotosWithQuery(context.Background(), 100, 0, "album:friends")
	if err != nil {
		t.Fatalf("GetPhotosWithQuery failed: %v", err)
	}
	if len(photos) != 2 {
		t.Fatalf("got %d photos; want 2", len(photos))
	}
	if photos[0].UID != "pt1" || photos[0].Hash != "h1" {
		t.Errorf("photos[0] = %+v", photos[0])
	}

	next, err := pp.GetPhotosWithQuery(context.Background(), 100, 100, "")
	if err != nil {
		t.Fatalf("GetPhotosWithQuery failed: %v", err)
	}
	if len(next) != 0 {
		t.Errorf("got %d photos on second page; want 0", len(next))
	}
}

func TestGetFileDownload(t *testing.T) {
	server := setupMockServer(t)
	pp, err := NewPhotoPrism(context.Background(), server.URL, "test", "test")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}

	data, err := pp.GetFileDownload(context.Background(), "h2")
	if err != nil {
		t.Fatalf("GetFileDownload failed: %v", err)
	}
	if string(data) != "file:h2" {
		t.Errorf("data = %q; want file:h2", data)
	}
}

func TestLogout(t *testing.T) {
	server := setupMockServer(t)
	pp, err := NewPhotoPrism(context.Background(), server.URL, "test", "test")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}

	if err := pp.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if pp.token != "" || pp.downloadToken != "" {
		t.Error("tokens not cleared after logout")
	}
	// Second logout is a no-op.
	if err := pp.Logout(context.Background()); err != nil {
		t.Errorf("second Logout failed: %v", err)
	}
}

func TestResolveURL(t *testing.T) {
	server := setupMockServer(t)
	pp, err := NewPhotoPrism(context.Background(), server.URL, "test", "test")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}

	got := pp.resolveURL("photos?count=1&offset=2")
	want := server.URL + "/api/v1/photos?count=1&offset=2"
	if got != want {
		t.Errorf("resolveURL = %q; want %q", got, want)
	}
}

func TestPhoto_DisplayName(t *testing.T) {
	tests := []struct {
		photo    Photo
		expected string
	}{
		{Photo{UID: "pt1", OriginalName: "IMG_1.JPG", FileName: "a.jpg"}, "IMG_1.JPG"},
		{Photo{UID: "pt1", FileName: "a.jpg", Title: "Beach"}, "a.jpg"},
		{Photo{UID: "pt1", Title: "Beach"}, "Beach"},
		{Photo{UID: "pt1"}, "pt1"},
	}

	for _, tc := range tests {
		if got := tc.photo.DisplayName(); got != tc.expected {
			t.Errorf("DisplayName() = %q; want %q", got, tc.expected)
		}
	}
}
