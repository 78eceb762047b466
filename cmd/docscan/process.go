package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

var processCmd = &cobra.Command{
	Use:   "process FILE...",
	Short: "Analyze documents and print the finished jobs as JSON",
	Long: `Submit each FILE, wait for it to finish and print the job records.
The command exits non-zero when any document fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().Duration("timeout", 30*time.Minute, "Give up waiting after this long")
}

func runProcess(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(10 * time.Second)

	var ids []string
	for _, p := range args {
		job, err := a.jobs.SubmitPath(ctx, p)
		if err != nil {
			logger.Error("submit failed", "path", p, "error", err)
			return err
		}
		ids = append(ids, job.ID)
	}

	results, failed, err := waitAll(ctx, a, ids)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(ids))
	}
	return nil
}

// waitAll blocks until every job is terminal and counts the failed ones.
func waitAll(ctx context.Context, a *app, ids []string) ([]entity.Job, int, error) {
	results := make([]entity.Job, 0, len(ids))
	failed := 0
	for _, id := range ids {
		job, err := a.jobs.Wait(ctx, id)
		if err != nil {
			return results, failed, err
		}
		if job.Status == constants.JobStatusFailed {
			failed++
		}
		results = append(results, job)
	}
	return results, failed, nil
}
