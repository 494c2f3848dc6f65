package photoprism

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// GetPhotosWithQuery retrieves one page of photos with an optional search query.
// Query examples: "person:jan-novak", "album:friends", "year:2024"
func (pp *PhotoPrism) GetPhotosWithQuery(ctx context.Context, count, offset int, query string) ([]Photo, error) {
	endpoint := fmt.Sprintf("photos?count=%d&offset=%d&merged=true", count, offset)
	if query != "" {
		endpoint += "&q=" + url.QueryEscape(query)
	}

	result, err := doGetJSON[[]Photo](ctx, pp, endpoint)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// GetFileDownload downloads a file using its hash via the /api/v1/dl/{hash} endpoint.
func (pp *PhotoPrism) GetFileDownload(ctx context.Context, fileHash string) ([]byte, error) {
	u := fmt.Sprintf("%s/dl/%s?t=%s", pp.Url, url.PathEscape(fileHash), url.QueryEscape(pp.downloadToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := pp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	return data, nil
}
