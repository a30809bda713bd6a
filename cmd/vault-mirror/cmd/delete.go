package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Remove a manuscript's catalog row, snippets and on-disk folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	docID := args[0]
	if err := globalCatalog.DeleteManuscript(docID, func(path string) error {
		return os.RemoveAll(path)
	}); err != nil {
		return fmt.Errorf("deleting %s: %w", docID, err)
	}
	fmt.Printf("deleted %s\n", docID)
	return nil
}
