package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/internal/storage"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Analyze every supported document under a directory",
	Long: `Walk --dir (recursively, in natural name order), submit each supported
document and wait for all of them. With --out the results are written as
an xlsx workbook.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("dir", "", "Directory to scan (required)")
	batchCmd.Flags().String("out", "", "Write an xlsx report to this path")
	batchCmd.Flags().Bool("skip-hidden", true, "Skip dotfiles and dot-directories")
	batchCmd.Flags().Duration("timeout", 2*time.Hour, "Give up waiting after this long")
	_ = batchCmd.MarkFlagRequired("dir")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	out, _ := cmd.Flags().GetString("out")
	skipHidden, _ := cmd.Flags().GetBool("skip-hidden")
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

	submitted, stats, err := a.jobs.SubmitDirectory(ctx, dir, skipHidden)
	if err != nil {
		return err
	}
	var ids []string
	rejected := 0
	for _, r := range submitted {
		if r.Err != "" {
			rejected++
			continue
		}
		ids = append(ids, r.JobID)
	}
	logger.Info("batch submitted", "dir", dir, "scanned", stats.Scanned, "matched", stats.Matched, "submitted", len(ids), "rejected", rejected)

	results, failed, err := waitAll(ctx, a, ids)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, j := range results {
		fmt.Fprintf(w, "%s  %-9s  pages=%-3d signature=%-5t stamp=%-5t qr=%-5t  %s\n",
			j.ID, j.Status, len(j.Pages), j.Summary.Signature, j.Summary.Stamp, j.Summary.QR, j.Document.Filename)
	}

	if out != "" {
		data, err := a.reports.WriteJobsXLSX(ctx, results)
		if err != nil {
			return err
		}
		if err := storage.WriteFileAtomic(out, data); err != nil {
			return err
		}
		logger.Info("report written", "path", out, "jobs", len(results))
	}
	if failed > 0 || rejected > 0 {
		return fmt.Errorf("%d failed, %d rejected of %d documents", failed, rejected, len(submitted))
	}
	return nil
}
