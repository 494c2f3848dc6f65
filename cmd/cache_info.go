package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what the persisted fingerprint cache holds",
	RunE:  runCacheInfo,
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheInfoCmd.Flags().Bool("json", false, "Output as JSON")
}

// CacheInfoResult is the JSON output of cache info.
type CacheInfoResult struct {
	Source  string                 `json:"source"`
	Backend string                 `json:"backend"`
	Load    fingerprint.LoadResult `json:"load"`
	Stats   fingerprint.Stats      `json:"stats"`
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	log := newLogger(cfg)

	svc, err := openServices(ctx, cfg, log, 0)
	if err != nil {
		return err
	}
	defer svc.Close()

	result := CacheInfoResult{
		Source:  cfg.Source.Kind,
		Backend: cfg.Cache.Backend,
		Load:    svc.loaded,
		Stats:   svc.cache.Stats(),
	}
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("Fingerprint cache")
	fmt.Printf("  Source:       %s\n", result.Source)
	fmt.Printf("  Backend:      %s\n", result.Backend)
	fmt.Printf("  Status:       %s\n", result.Load.Status)
	if result.Load.Reason != "" {
		fmt.Printf("  Reason:       %s\n", result.Load.Reason)
	}
	fmt.Printf("  Model:        %s (%d dims)\n", result.Stats.VersionTag, result.Stats.Dim)
	fmt.Printf("  Photos:       %d\n", result.Stats.Records)
	fmt.Printf("  Faces:        %d\n", result.Stats.Faces)
	if result.Stats.Failed > 0 {
		fmt.Printf("  Unreadable:   %d\n", result.Stats.Failed)
	}
	if !result.Stats.UpdatedAt.IsZero() {
		fmt.Printf("  Updated:      %s\n", result.Stats.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if result.Stats.Records > 0 && result.Stats.Faces == 0 {
		fmt.Println("\nWarning: no faces indexed")
	}
	return nil
}
