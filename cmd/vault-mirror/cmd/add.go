package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vault-iiif-mirror/internal/models"
)

var addLibraryFlag string

var addCmd = &cobra.Command{
	Use:   "add <shelfmark-or-url>",
	Short: "Resolve and download a manuscript from a supported IIIF repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addLibraryFlag, "library", "l", "", "Library to resolve against (Vaticana, Gallica, Bodleian, Institut de France); omit for a generic manifest URL")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	input := args[0]
	library := addLibraryFlag
	if library == "" {
		library = "Unknown"
	}

	ctx := context.Background()

	m, err := globalArchiver.Prepare(ctx, library, input)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", input, err)
	}
	log.Infof("resolved %s -> %s (%d canvases)", input, m.ManifestURL, m.TotalCanvases)

	task := globalArchiver.Task(m.ID, m.Library, m.ManifestURL)
	jobID, err := globalJobManager.Submit(ctx, m.ID, m.Library, m.ManifestURL, task)
	if err != nil {
		return fmt.Errorf("submitting download job: %w", err)
	}
	log.Infof("submitted job %s for %s", jobID, m.ID)

	return pollJob(jobID)
}

// pollJob prints live progress for jobID until it reaches a terminal
// status, matching the teacher's uilive-driven progress display.
func pollJob(jobID string) error {
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		job, err := globalJobManager.GetJob(jobID)
		if err != nil {
			fmt.Fprintf(writer, "job %s: waiting for first catalog write...\n", jobID)
			continue
		}
		fmt.Fprintf(writer, "job %s: %s (%d/%d)\n", jobID, job.Status, job.Current, job.Total)

		switch job.Status {
		case models.JobCompleted:
			log.Infof("job %s done: %d/%d pages downloaded", jobID, job.Current, job.Total)
			return nil
		case models.JobError:
			return fmt.Errorf("job %s failed: %s", jobID, job.ErrorMessage)
		case models.JobCancelled:
			log.Infof("job %s cancelled", jobID)
			return nil
		}
	}
	return nil
}
