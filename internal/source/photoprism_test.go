package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/kozaktomas/face-finder/internal/photoprism"
)

type fakePhotoPrism struct {
	photos    []photoprism.Photo
	queries   []string
	listErr   error
	downloads []string
}

func (f *fakePhotoPrism) GetPhotosWithQuery(ctx context.Context, count, offset int, query string) ([]photoprism.Photo, error) {
	f.queries = append(f.queries, fmt.Sprintf("%d/%d/%s", count, offset, query))
	if f.listErr != nil {
		return nil, f.listErr
	}
	if offset >= len(f.photos) {
		return nil, nil
	}
	return f.photos[offset:min(offset+count, len(f.photos))], nil
}

func (f *fakePhotoPrism) GetFileDownload(ctx context.Context, fileHash string) ([]byte, error) {
	f.downloads = append(f.downloads, fileHash)
	return []byte("data:" + fileHash), nil
}

func TestPhotoPrism_List(t *testing.T) {
	client := &fakePhotoPrism{photos: []photoprism.Photo{
		{UID: "pt1", Hash: "h1", OriginalName: "IMG_1.JPG"},
		{UID: "pt2", Hash: "h2", FileName: "2024/b.jpg"},
		{UID: "pt3"}, // no primary file
		{UID: "pt4", Hash: "h4"},
		{UID: "pt2", Hash: "h2"},
	}}

	images, err := NewPhotoPrism(client, "album:friends", 2).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if got, want := identities(images), []string{"pt1", "pt2", "pt4"}; !slices.Equal(got, want) {
		t.Errorf("identities = %v; want %v", got, want)
	}
	wantQueries := []string{"2/0/album:friends", "2/2/album:friends", "2/4/album:friends"}
	if !slices.Equal(client.queries, wantQueries) {
		t.Errorf("queries = %v; want %v", client.queries, wantQueries)
	}
	if images[0].Name != "IMG_1.JPG" || images[0].Revision != "h1" {
		t.Errorf("images[0] = %+v", images[0])
	}

	data, err := images[1].Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "data:h2" {
		t.Errorf("data = %q; want data:h2", data)
	}
}

func TestPhotoPrism_ExactPage(t *testing.T) {
	client := &fakePhotoPrism{photos: []photoprism.Photo{
		{UID: "pt1", Hash: "h1"},
		{UID: "pt2", Hash: "h2"},
	}}

	images, err := NewPhotoPrism(client, "", 2).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 2 {
		t.Errorf("got %d images; want 2", len(images))
	}
	if len(client.queries) != 2 {
		t.Errorf("made %d requests; want 2", len(client.queries))
	}
}

func TestPhotoPrism_ListError(t *testing.T) {
	boom := errors.New("connection refused")
	client := &fakePhotoPrism{listErr: boom}

	_, err := NewPhotoPrism(client, "", 0).List(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
