package source

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/photoprism"
)

// PhotoPrismClient is the part of the PhotoPrism API the source needs.
type PhotoPrismClient interface {
	GetPhotosWithQuery(ctx context.Context, count, offset int, query string) ([]photoprism.Photo, error)
	GetFileDownload(ctx context.Context, fileHash string) ([]byte, error)
}

// PhotoPrism lists the photos matching a search query.
// Identities are photo UIDs and revisions the primary file hash.
type PhotoPrism struct {
	client   PhotoPrismClient
	query    string
	pageSize int
}

// NewPhotoPrism creates a PhotoPrism source. An empty query lists the whole library.
func NewPhotoPrism(client PhotoPrismClient, query string, pageSize int) *PhotoPrism {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	return &PhotoPrism{client: client, query: query, pageSize: pageSize}
}

// List pages through the search results until a short page.
func (p *PhotoPrism) List(ctx context.Context) ([]fingerprint.SourceImage, error) {
	var images []fingerprint.SourceImage
	seen := make(map[string]struct{})
	for offset := 0; ; offset += p.pageSize {
		photos, err := p.client.GetPhotosWithQuery(ctx, p.pageSize, offset, p.query)
		if err != nil {
			return nil, fmt.Errorf("listing photos at offset %d: %w", offset, err)
		}
		for _, photo := range photos {
			if photo.Hash == "" {
				continue
			}
			if _, dup := seen[photo.UID]; dup {
				continue
			}
			seen[photo.UID] = struct{}{}
			hash := photo.Hash
			images = append(images, fingerprint.SourceImage{
				Identity: photo.UID,
				Name:     photo.DisplayName(),
				Revision: hash,
				Fetch: func(ctx context.Context) ([]byte, error) {
					return p.client.GetFileDownload(ctx, hash)
				},
			})
		}
		if len(photos) < p.pageSize {
			return images, nil
		}
	}
}
