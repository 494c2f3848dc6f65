package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

var matchCmd = &cobra.Command{
	Use:   "match <selfie>",
	Short: "Find the photos the person in a selfie appears in",
	Long: `Detect the face in a selfie and list every cached photo containing a face
within the tolerance. When the selfie shows several faces, the largest one is used.

Examples:
  # Match with the default tolerance
  face-finder match me.jpg

  # Stricter match, best 10 photos
  face-finder match me.jpg --tolerance 0.4 --limit 10

  # Use the approximate index (requires CACHE_HNSW=true)
  face-finder match me.jpg --approx`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Float64("tolerance", 0, "Maximum face distance, lower is stricter (default MATCH_TOLERANCE)")
	matchCmd.Flags().Int("limit", 0, "Maximum number of photos to show (0 = all)")
	matchCmd.Flags().Bool("approx", false, "Use the approximate HNSW index")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// MatchResult is the JSON output of match.
type MatchResult struct {
	Selfie        string             `json:"selfie"`
	Tolerance     float64            `json:"tolerance"`
	FacesInSelfie int                `json:"faces_in_selfie"`
	Count         int                `json:"count"`
	Matches       []MatchResultEntry `json:"matches"`
}

// MatchResultEntry is one matched photo.
type MatchResultEntry struct {
	Identity   string  `json:"identity"`
	Name       string  `json:"name,omitempty"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	approx := mustGetBool(cmd, "approx")
	jsonOutput := mustGetBool(cmd, "json")
	if limit < 0 {
		return errors.New("--limit must not be negative")
	}

	cfg := config.Load()
	tol, err := matchTolerance(cmd, cfg)
	if err != nil {
		return err
	}

	selfie, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read selfie: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := newLogger(cfg)
	svc, err := openServices(ctx, cfg, log, 0)
	if err != nil {
		return err
	}
	defer svc.Close()
	if err := svc.buildIfNeeded(ctx, jsonOutput); err != nil {
		return err
	}

	faces, err := svc.extractor.Extract(ctx, selfie)
	if err != nil {
		return fmt.Errorf("failed to extract selfie face: %w", err)
	}
	face, err := fingerprint.LargestFace(faces)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	var results []fingerprint.QueryResult
	if approx {
		k := limit
		if k == 0 {
			k = cfg.Match.Limit
		}
		results, err = svc.cache.FindMatchesApprox(face.Vector, tol, k)
	} else {
		results, err = svc.cache.FindMatches(face.Vector, tol)
	}
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := MatchResult{
		Selfie:        args[0],
		Tolerance:     tol.Float64(),
		FacesInSelfie: len(faces),
		Count:         len(results),
		Matches:       make([]MatchResultEntry, len(results)),
	}
	for i, r := range results {
		out.Matches[i] = MatchResultEntry{
			Identity:   r.Identity,
			Name:       r.Name,
			Distance:   r.Distance,
			Confidence: r.Confidence(),
		}
	}
	if jsonOutput {
		return outputJSON(out)
	}

	if len(faces) > 1 {
		fmt.Printf("Selfie shows %d faces, using the largest one\n", len(faces))
	}
	if out.Count == 0 {
		fmt.Printf("No photos found within tolerance %.2f\n", out.Tolerance)
		return nil
	}
	fmt.Printf("Found %d photos within tolerance %.2f:\n\n", out.Count, out.Tolerance)
	for i, m := range out.Matches {
		name := m.Name
		if name == "" {
			name = m.Identity
		}
		fmt.Printf("%4d. %-50s %5.1f%%  (distance %.4f)\n", i+1, name, m.Confidence, m.Distance)
	}
	return nil
}

// matchTolerance returns the --tolerance flag when set and the configured default otherwise.
func matchTolerance(cmd *cobra.Command, cfg *config.Config) (fingerprint.Tolerance, error) {
	if !cmd.Flags().Changed("tolerance") {
		return cfg.DefaultTolerance()
	}
	return cfg.Match.Range.Parse(mustGetFloat64(cmd, "tolerance"))
}
