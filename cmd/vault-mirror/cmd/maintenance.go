package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Normalize catalog asset states and prune stale job/temp data",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	active, err := globalCatalog.GetActiveDownloads()
	if err != nil {
		return fmt.Errorf("listing active downloads: %w", err)
	}
	activeDocIDs := make(map[string]bool, len(active))
	for _, j := range active {
		activeDocIDs[j.DocID] = true
	}

	updated, err := globalCatalog.NormalizeAssetStates(1000, activeDocIDs, globalConfig.TempDir)
	if err != nil {
		return fmt.Errorf("normalizing asset states: %w", err)
	}
	fmt.Printf("normalized %d manuscript row(s)\n", updated)

	retention := time.Duration(globalConfig.Housekeeping.TempCleanupDays) * 24 * time.Hour
	removed, err := globalCatalog.CleanupStaleData(retention, func(docID string) error {
		return os.RemoveAll(filepath.Join(globalConfig.TempDir, docID))
	})
	if err != nil {
		return fmt.Errorf("cleaning up stale data: %w", err)
	}
	fmt.Printf("removed %d stale job row(s)\n", removed)
	return nil
}
