package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the fingerprint cache in line with the photo source",
	Long: `Sync the fingerprint cache with the configured photo source.

Only new photos and photos whose content changed are sent to the extractor.
Photos that disappeared from the source are dropped from the cache.
Press Ctrl+C to cancel; a cancelled sync leaves the cache unchanged.

Examples:
  # Run sync with the configured concurrency
  face-finder cache sync

  # Limit concurrency
  face-finder cache sync --concurrency 2

  # JSON output for scripting
  face-finder cache sync --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheUpdate(cmd, false)
	},
}

var cacheRescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Re-extract every photo and rebuild the fingerprint cache",
	Long: `Rebuild the fingerprint cache from scratch.

Every photo in the source is sent to the extractor again, regardless of
whether it changed. Use this after switching the face model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheUpdate(cmd, true)
	},
}

func init() {
	cacheCmd.AddCommand(cacheSyncCmd)
	cacheCmd.AddCommand(cacheRescanCmd)

	for _, c := range []*cobra.Command{cacheSyncCmd, cacheRescanCmd} {
		c.Flags().Int("concurrency", 0, "Number of parallel extractions (default CACHE_CONCURRENCY)")
		c.Flags().Bool("json", false, "Output as JSON instead of progress bar")
	}
}

// CacheSyncResult represents the result of a cache sync or rescan.
type CacheSyncResult struct {
	Success       bool   `json:"success"`
	Forced        bool   `json:"forced"`
	Listed        int    `json:"listed"`
	Added         int    `json:"added"`
	Updated       int    `json:"updated"`
	Removed       int    `json:"removed"`
	Unchanged     int    `json:"unchanged"`
	Failed        int    `json:"failed"`
	Faces         int    `json:"faces"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

func newCacheSyncResult(r *fingerprint.SyncReport) CacheSyncResult {
	res := CacheSyncResult{
		Success:       true,
		Forced:        r.Forced,
		Listed:        r.Listed,
		Added:         r.Added,
		Updated:       r.Updated,
		Removed:       r.Removed,
		Unchanged:     r.Unchanged,
		Failed:        r.Failed,
		Faces:         r.Faces,
		DurationMs:    r.Duration.Milliseconds(),
		DurationHuman: formatDuration(r.Duration),
	}
	if r.PersistErr != nil {
		res.Warning = r.PersistErr.Error()
	}
	return res
}

func runCacheUpdate(cmd *cobra.Command, force bool) error {
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log := newLogger(cfg)

	svc, err := openServices(ctx, cfg, log, concurrency)
	if err != nil {
		return err
	}
	defer svc.Close()
	if !jsonOutput {
		svc.warnLoad()
	}

	var progress fingerprint.ProgressFunc
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		progress = func(ev fingerprint.ProgressEvent) {
			switch ev.Phase {
			case fingerprint.PhaseListing:
				fmt.Printf("Listing %s source...\n", cfg.Source.Kind)
			case fingerprint.PhaseExtracting:
				if bar == nil {
					bar = newExtractionBar(ev.Total)
					return
				}
				bar.Set(ev.Done)
			case fingerprint.PhasePersisting:
				if bar != nil {
					bar.Finish()
					fmt.Println()
				}
				fmt.Println("Saving cache...")
			}
		}
	}

	var report *fingerprint.SyncReport
	if force {
		report, err = svc.cache.ForceRebuild(ctx, progress)
	} else {
		report, err = svc.cache.Sync(ctx, progress)
	}
	if err != nil {
		if bar != nil {
			fmt.Println()
		}
		if errors.Is(err, context.Canceled) {
			return errors.New("sync cancelled, cache left unchanged")
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	result := newCacheSyncResult(report)
	if jsonOutput {
		// Remove human-readable duration for JSON output
		result.DurationHuman = ""
		return outputJSON(result)
	}

	if force {
		fmt.Println("\nRescan complete!")
	} else {
		fmt.Println("\nSync complete!")
	}
	fmt.Printf("  Photos listed:  %d\n", result.Listed)
	fmt.Printf("  Added:          %d\n", result.Added)
	fmt.Printf("  Updated:        %d\n", result.Updated)
	fmt.Printf("  Removed:        %d\n", result.Removed)
	fmt.Printf("  Unchanged:      %d\n", result.Unchanged)
	if result.Failed > 0 {
		fmt.Printf("  Failed:         %d\n", result.Failed)
	}
	fmt.Printf("  Faces indexed:  %d\n", result.Faces)
	fmt.Printf("  Duration:       %s\n", result.DurationHuman)
	if result.Warning != "" {
		fmt.Printf("\nWarning: %s\n", result.Warning)
	}
	return nil
}

func newExtractionBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Extracting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
