package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/server"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and maintain stored jobs",
}

var jobsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored jobs, newest first",
	RunE:    runJobsList,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete JOB_ID...",
	Short: "Delete finished jobs and their files",
	Long:  `Delete finished jobs. Stop the server first: in-progress jobs are marked failed on load.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsDelete,
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than --older-than",
	Long:  `Delete finished jobs. Stop the server first: in-progress jobs are marked failed on load.`,
	RunE:  runJobsPrune,
}

func init() {
	jobsListCmd.Flags().String("status", "", "Only jobs with this status")
	jobsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Minimum age since completion")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsPruneCmd)
}

// loadJobs reads the store without taking ownership of in-progress jobs,
// so it is safe next to a running server.
func loadJobs(ctx context.Context) ([]entity.Job, error) {
	layout, err := storage.NewLayout(cfg.Media.Root, cfg.Media.URLPrefix, logger)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := server.ConnectStore(ctx, cfg.Store, layout, logger)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.LoadAll(ctx)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")
	if status != "" && !constants.JobStatus(status).Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	list, err := loadJobs(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATUS\tCREATED\tPAGES\tSIGNATURE\tSTAMP\tQR\tDOCUMENT")
	for _, j := range list {
		if status != "" && string(j.Status) != status {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%t\t%t\t%s\n",
			j.ID, j.Status, j.CreatedAt.Local().Format(time.DateTime), len(j.Pages),
			j.Summary.Signature, j.Summary.Stamp, j.Summary.QR, j.Document.Filename)
	}
	return tw.Flush()
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(5 * time.Second)

	for _, id := range args {
		if err := a.jobs.Delete(cmd.Context(), id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
	}
	return nil
}

func runJobsPrune(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(5 * time.Second)

	n, err := a.jobs.Prune(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d jobs\n", n)
	return nil
}
