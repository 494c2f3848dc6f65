package source

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// driveImageTypes are the MIME types listed from a Drive folder.
var driveImageTypes = []string{
	"image/jpeg", "image/png", "image/webp",
	"image/heic", "image/heif", "image/gif",
}

const driveListFields = "nextPageToken, files(id, name, md5Checksum, modifiedTime)"

// Drive lists the images of one Google Drive folder (not recursive).
// Identities are Drive file IDs.
type Drive struct {
	svc      *drive.Service
	folderID string
	pageSize int64
}

// DriveCredentials picks inline service account JSON over a credentials file.
func DriveCredentials(file, inline string) option.ClientOption {
	if inline != "" {
		return option.WithCredentialsJSON([]byte(inline))
	}
	return option.WithCredentialsFile(file)
}

// NewDrive creates a read-only Drive source.
func NewDrive(ctx context.Context, folderID string, pageSize int, opts ...option.ClientOption) (*Drive, error) {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &Drive{svc: svc, folderID: folderID, pageSize: int64(pageSize)}, nil
}

func (d *Drive) query() string {
	types := make([]string, len(driveImageTypes))
	for i, t := range driveImageTypes {
		types[i] = fmt.Sprintf("mimeType='%s'", t)
	}
	folder := strings.ReplaceAll(d.folderID, "'", `\'`)
	return fmt.Sprintf("('%s' in parents) and (%s) and trashed=false", folder, strings.Join(types, " or "))
}

// List pages through the folder listing.
func (d *Drive) List(ctx context.Context) ([]fingerprint.SourceImage, error) {
	var images []fingerprint.SourceImage
	q := d.query()
	pageToken := ""
	for {
		call := d.svc.Files.List().
			Q(q).
			Fields(driveListFields).
			PageSize(d.pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing drive folder %s: %w", d.folderID, err)
		}
		for _, f := range resp.Files {
			images = append(images, fingerprint.SourceImage{
				Identity: f.Id,
				Name:     f.Name,
				Revision: driveRevision(f),
				Fetch:    d.download(f.Id),
			})
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			return images, nil
		}
	}
}

// driveRevision prefers the content checksum; Google native files have none.
func driveRevision(f *drive.File) string {
	if f.Md5Checksum != "" {
		return f.Md5Checksum
	}
	return f.ModifiedTime
}

func (d *Drive) download(fileID string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", fileID, err)
		}
		defer resp.Body.Close()
		return readLimited(resp.Body)
	}
}
