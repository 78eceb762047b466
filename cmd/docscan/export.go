package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/export"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored jobs to an xlsx workbook",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringP("out", "o", "docscan-report.xlsx", "Output path")
	exportCmd.Flags().String("from", "", "First day to include (YYYY-MM-DD)")
	exportCmd.Flags().String("to", "", "Last day to include (YYYY-MM-DD)")
}

type staticJobs []entity.Job

func (s staticJobs) List() []entity.Job { return s }

func runExport(cmd *cobra.Command, _ []string) error {
	out, _ := cmd.Flags().GetString("out")
	var filter export.Filter
	if s, _ := cmd.Flags().GetString("from"); s != "" {
		t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
		if err != nil {
			return err
		}
		filter.From = &t
	}
	if s, _ := cmd.Flags().GetString("to"); s != "" {
		t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
		if err != nil {
			return err
		}
		end := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.To = &end
	}

	list, err := loadJobs(cmd.Context())
	if err != nil {
		return err
	}
	data, err := export.NewService(staticJobs(list), cfg.Review.DisplayThreshold, logger).ExportJobsXLSX(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(out, data); err != nil {
		return err
	}
	logger.Info("report written", "path", out, "jobs", len(list))
	return nil
}
