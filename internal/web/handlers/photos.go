package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/extractor"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// PhotoHandler serves cached photos for previews and downloads.
type PhotoHandler struct {
	cache *fingerprint.Cache
	log   logrus.FieldLogger
}

// NewPhotoHandler creates a new photo handler
func NewPhotoHandler(cache *fingerprint.Cache, log logrus.FieldLogger) *PhotoHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PhotoHandler{cache: cache, log: log}
}

// Get handles GET /photos/{identity}. With "size" the photo is returned as a
// JPEG thumbnail; with "download" it is sent as an attachment.
func (h *PhotoHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		// chi matches on the escaped path when it differs from Path.
		unescaped, err := url.PathUnescape(identity)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid photo identity")
			return
		}
		identity = unescaped
	}
	if identity == "" {
		respondError(w, http.StatusBadRequest, "photo identity is required")
		return
	}

	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < constants.MinThumbnailSize || n > constants.MaxThumbnailSize {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("size must be between %d and %d",
				constants.MinThumbnailSize, constants.MaxThumbnailSize))
			return
		}
		size = n
	}
	download, _ := strconv.ParseBool(r.URL.Query().Get("download"))

	log := h.log.WithField("identity", sanitizeForLog(identity))
	rec, data, err := h.cache.Photo(r.Context(), identity)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		status := statusForError(err)
		if status == http.StatusNotFound {
			respondError(w, status, "photo not found")
			return
		}
		log.WithError(err).Warn("failed to fetch photo")
		respondError(w, status, "failed to fetch photo")
		return
	}

	contentType := http.DetectContentType(data)
	if size > 0 {
		if data, err = extractor.Thumbnail(data, size); err != nil {
			log.WithError(err).Debug("photo cannot be previewed")
			respondError(w, http.StatusUnprocessableEntity, "photo cannot be previewed")
			return
		}
		contentType = "image/jpeg"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if download {
		name := rec.Name
		if name == "" {
			name = identity
		}
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(name)}))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
