package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-finder/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ToleranceInfo describes the tolerance slider.
type ToleranceInfo struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Step    float64 `json:"step"`
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Tolerance   ToleranceInfo `json:"tolerance"`
	Limit       int           `json:"limit"`
	Source      string        `json:"source"`
	Extractor   string        `json:"extractor"`
	Model       string        `json:"model"`
	Dim         int           `json:"dim"`
	Backend     string        `json:"backend"`
	Approximate bool          `json:"approximate"`
}

// Get returns the matching settings the UI needs
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	m := h.config.Match
	respondJSON(w, http.StatusOK, ConfigResponse{
		Tolerance: ToleranceInfo{
			Min:     m.Range.Min,
			Max:     m.Range.Max,
			Default: m.Tolerance,
			Step:    m.Step,
		},
		Limit:       m.Limit,
		Source:      h.config.Source.Kind,
		Extractor:   h.config.Embedding.Kind,
		Model:       h.config.Embedding.Model,
		Dim:         h.config.Embedding.Dim,
		Backend:     h.config.Cache.Backend,
		Approximate: h.config.Cache.HNSW,
	})
}
