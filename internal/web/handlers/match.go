package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// MatchHandler finds the photos a selfie appears in.
type MatchHandler struct {
	config    *config.Config
	cache     *fingerprint.Cache
	extractor fingerprint.Extractor
	log       logrus.FieldLogger
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(cfg *config.Config, cache *fingerprint.Cache, ext fingerprint.Extractor, log logrus.FieldLogger) *MatchHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MatchHandler{
		config:    cfg,
		cache:     cache,
		extractor: ext,
		log:       log,
	}
}

// MatchItem is one matched photo.
type MatchItem struct {
	Identity   string                  `json:"identity"`
	Name       string                  `json:"name,omitempty"`
	Distance   float64                 `json:"distance"`
	Confidence float64                 `json:"confidence"`
	Box        fingerprint.BoundingBox `json:"box"`
}

// MatchResponse is the response of a selfie match.
type MatchResponse struct {
	Tolerance     float64                 `json:"tolerance"`
	Approximate   bool                    `json:"approximate"`
	FacesInSelfie int                     `json:"faces_in_selfie"`
	SelfieFace    fingerprint.BoundingBox `json:"selfie_face"`
	Count         int                     `json:"count"`
	Matches       []MatchItem             `json:"matches"`
}

// Match handles POST /match with a multipart "selfie" file and optional
// "tolerance", "limit" and "approx" fields.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	tol, err := h.tolerance(r.FormValue("tolerance"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if s := r.FormValue("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	approx, _ := strconv.ParseBool(r.FormValue("approx"))

	file, header, err := r.FormFile("selfie")
	if err != nil {
		respondError(w, http.StatusBadRequest, "selfie is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read selfie")
		return
	}
	log := h.log.WithField("selfie", sanitizeForLog(header.Filename))

	faces, err := h.extractor.Extract(r.Context(), data)
	if err != nil {
		if errors.Is(err, fingerprint.ErrExtraction) {
			respondError(w, http.StatusUnprocessableEntity, "selfie could not be read as an image")
			return
		}
		log.WithError(err).Error("selfie extraction failed")
		respondError(w, http.StatusBadGateway, "embedding service unavailable")
		return
	}
	face, err := fingerprint.LargestFace(faces)
	if err != nil {
		respondError(w, statusForError(err), "no face detected in selfie")
		return
	}

	var results []fingerprint.QueryResult
	if approx {
		k := limit
		if k == 0 {
			k = h.config.Match.Limit
		}
		results, err = h.cache.FindMatchesApprox(face.Vector, tol, k)
	} else {
		results, err = h.cache.FindMatches(face.Vector, tol)
	}
	if err != nil {
		log.WithError(err).Warn("match failed")
		respondError(w, statusForError(err), err.Error())
		return
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	resp := MatchResponse{
		Tolerance:     tol.Float64(),
		Approximate:   approx,
		FacesInSelfie: len(faces),
		SelfieFace:    face.Box,
		Count:         len(results),
		Matches:       make([]MatchItem, len(results)),
	}
	for i, res := range results {
		resp.Matches[i] = MatchItem{
			Identity:   res.Identity,
			Name:       res.Name,
			Distance:   res.Distance,
			Confidence: res.Confidence(),
			Box:        res.Box,
		}
	}
	log.WithFields(logrus.Fields{"matches": resp.Count, "tolerance": resp.Tolerance}).Info("selfie matched")
	respondJSON(w, http.StatusOK, resp)
}

func (h *MatchHandler) tolerance(raw string) (fingerprint.Tolerance, error) {
	if raw == "" {
		return h.config.DefaultTolerance()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("tolerance must be a number")
	}
	return h.config.Match.Range.Parse(v)
}
