// Package source lists the photos the fingerprint cache is built from:
// a local folder, a Google Drive folder or a PhotoPrism library.
package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// Local lists image files below a root folder.
// Identities are slash separated, NFC normalized paths relative to the root,
// so the same file keeps its identity across operating systems.
type Local struct {
	root string
	exts map[string]struct{}
	log  logrus.FieldLogger
}

// NewLocal creates a folder source accepting the given lower-case extensions
// (e.g. ".jpg"). An empty list accepts every file.
func NewLocal(root string, extensions []string, log logrus.FieldLogger) *Local {
	if log == nil {
		log = logrus.StandardLogger()
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Local{root: root, exts: exts, log: log.WithField("source", "local")}
}

func (l *Local) accepts(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if len(l.exts) == 0 {
		return true
	}
	_, ok := l.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// List walks the root folder. Unreadable subfolders are skipped with a warning;
// an unreadable root is an error.
func (l *Local) List(ctx context.Context) ([]fingerprint.SourceImage, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", l.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", l.root)
	}

	var images []fingerprint.SourceImage
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == l.root {
				return err
			}
			l.log.WithError(err).WithField("path", path).Warn("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !l.accepts(d.Name()) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			l.log.WithError(err).WithField("path", path).Warn("skipping file")
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}

		images = append(images, fingerprint.SourceImage{
			Identity: norm.NFC.String(filepath.ToSlash(rel)),
			Name:     norm.NFC.String(d.Name()),
			Revision: fileRevision(fi),
			Fetch:    readFile(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	return images, nil
}

// fileRevision changes whenever the file is rewritten.
func fileRevision(fi fs.FileInfo) string {
	return strconv.FormatInt(fi.Size(), 10) + "-" + strconv.FormatInt(fi.ModTime().UnixNano(), 10)
}

func readFile(path string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return readLimited(f)
	}
}

// readLimited reads r fully. Images over constants.MaxSourceImageSize are a
// per-image extraction failure.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, constants.MaxSourceImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > constants.MaxSourceImageSize {
		return nil, fmt.Errorf("%w: image larger than %d bytes", fingerprint.ErrExtraction, constants.MaxSourceImageSize)
	}
	return data, nil
}
