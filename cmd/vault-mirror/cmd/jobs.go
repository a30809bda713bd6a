package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control download jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent download jobs",
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running download job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsListLimit int

func init() {
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 20, "Maximum number of jobs to list")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	jobs, err := globalJobManager.ListJobs(jobsListLimit)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("no download jobs recorded")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%-10s %-10s %-30s %4d/%-4d %s\n", j.JobID, j.Status, j.DocID, j.Current, j.Total, j.ErrorMessage)
	}
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	if err := globalJobManager.RequestCancel(jobID); err != nil {
		return fmt.Errorf("cancelling job %s: %w", jobID, err)
	}
	fmt.Printf("cancellation requested for job %s\n", jobID)
	return nil
}
