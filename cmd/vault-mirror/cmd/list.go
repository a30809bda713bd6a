package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listQuery string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List manuscripts in the local catalog",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Filter by title, shelfmark or reference text")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if listQuery != "" {
		results, err := globalCatalog.SearchManuscripts(listQuery)
		if err != nil {
			return fmt.Errorf("searching catalog: %w", err)
		}
		for _, m := range results {
			fmt.Printf("%-24s %-12s %-10s %4d/%-4d %s\n", m.ID, m.Library, m.AssetState, m.DownloadedCanvases, m.TotalCanvases, m.DisplayTitle)
		}
		return nil
	}

	all, err := globalCatalog.GetAllManuscripts()
	if err != nil {
		return fmt.Errorf("listing catalog: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("no manuscripts recorded")
		return nil
	}
	for _, m := range all {
		fmt.Printf("%-24s %-12s %-10s %4d/%-4d %s\n", m.ID, m.Library, m.AssetState, m.DownloadedCanvases, m.TotalCanvases, m.DisplayTitle)
	}
	return nil
}
