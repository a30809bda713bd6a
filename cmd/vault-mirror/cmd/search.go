package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vault-iiif-mirror/internal/models"
	"vault-iiif-mirror/internal/search"
)

var searchLibraryFlag string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search an external repository (gallica, institut, vatican) for candidate manuscripts",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchLibraryFlag, "library", "l", "gallica", "Repository to search: gallica, institut, vatican")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := context.Background()

	var results []models.SearchResult
	var err error

	switch strings.ToLower(searchLibraryFlag) {
	case "gallica", "bnf":
		results, err = search.SearchGallica(ctx, globalArchiver.Client, query, 20)
	case "institut", "bibnum":
		results, err = search.SearchInstitutDeFrance(ctx, globalArchiver.Client, query)
	case "vatican", "vaticana":
		results, err = search.ProbeVatican(ctx, globalArchiver.Client, query)
	default:
		return fmt.Errorf("unknown search library %q (expected gallica, institut or vatican)", searchLibraryFlag)
	}
	if err != nil {
		// The search surfaces log network and parse failures and return an
		// empty list; a non-nil error here means the surface itself rejected
		// the query (e.g. ProbeVatican given an unrecognizable shelfmark).
		return fmt.Errorf("searching %s: %w", searchLibraryFlag, err)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-20s %-10s %s\n", r.ID, r.Library, r.Title)
	}
	return nil
}
