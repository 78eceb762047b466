package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

const (
	jobsSheet  = "Jobs"
	pagesSheet = "Pages"
)

// JobLister is the read side of the registry.
type JobLister interface {
	List() []entity.Job
}

// Filter narrows an export. Zero values mean no bound.
type Filter struct {
	From   *time.Time
	To     *time.Time
	JobIDs []string
}

func (f Filter) match(j entity.Job) bool {
	if f.From != nil && j.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && j.CreatedAt.After(*f.To) {
		return false
	}
	if len(f.JobIDs) == 0 {
		return true
	}
	for _, id := range f.JobIDs {
		if id == j.ID {
			return true
		}
	}
	return false
}

// Service is a tiny façade over the registry that produces XLSX bytes for reports.
type Service struct {
	jobs             JobLister
	displayThreshold float64
	logger           *slog.Logger
}

// NewService builds a report service. Detections below displayThreshold are
// not counted in the per-class columns.
func NewService(jobs JobLister, displayThreshold float64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, displayThreshold: displayThreshold, logger: logger}
}

// ExportJobsXLSX returns a workbook with one row per job and one row per page.
func (s *Service) ExportJobsXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	var jobs []entity.Job
	for _, j := range s.jobs.List() {
		if filter.match(j) {
			jobs = append(jobs, j)
		}
	}
	return s.WriteJobsXLSX(ctx, jobs)
}

// WriteJobsXLSX renders the given jobs in order.
func (s *Service) WriteJobsXLSX(ctx context.Context, jobs []entity.Job) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(pagesSheet); err != nil {
		return nil, fmt.Errorf("new sheet: %w", err)
	}
	activeIndex, _ := f.GetSheetIndex(jobsSheet)
	f.SetActiveSheet(activeIndex)

	writeHeader(f, jobsSheet, []string{
		"Job ID", "Document", "Kind", "Status", "Created", "Completed",
		"Pages", "Review Pages", "Signature", "Stamp", "QR", "Error",
	})
	writeHeader(f, pagesSheet, []string{
		"Job ID", "Page", "Requires Review", "Signatures", "Stamps", "QR Codes",
		"Max Confidence", "QR Texts", "Error", "Annotated URL",
	})

	jobRow, pageRow := 2, 2
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		review := 0
		for _, p := range j.Pages {
			if p.RequiresReview {
				review++
			}
		}
		completed := ""
		if j.CompletedAt != nil {
			completed = j.CompletedAt.UTC().Format(time.RFC3339)
		}
		jobErr := ""
		if j.Error != nil {
			jobErr = *j.Error
		}
		writeRow(f, jobsSheet, jobRow,
			j.ID, j.Document.Filename, string(j.Document.Kind), string(j.Status),
			j.CreatedAt.UTC().Format(time.RFC3339), completed,
			len(j.Pages), review, yesNo(j.Summary.Signature), yesNo(j.Summary.Stamp), yesNo(j.Summary.QR),
			truncate(jobErr, 200),
		)
		jobRow++

		for _, p := range j.Pages {
			sig, stamp, maxConf := s.counts(p)
			texts := make([]string, 0, len(p.QRCodes))
			for _, q := range p.QRCodes {
				texts = append(texts, q.Text)
			}
			annotated := ""
			if p.AnnotatedURL != nil {
				annotated = *p.AnnotatedURL
			}
			writeRow(f, pagesSheet, pageRow,
				j.ID, p.Name, yesNo(p.RequiresReview), sig, stamp, len(p.QRCodes),
				maxConf, truncate(strings.Join(texts, " | "), 140), p.Error, annotated,
			)
			pageRow++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(jobsSheet, "A", "A", 38) // id
	_ = f.SetColWidth(jobsSheet, "B", "B", 32) // document
	_ = f.SetColWidth(jobsSheet, "E", "F", 22) // timestamps
	_ = f.SetColWidth(jobsSheet, "L", "L", 48) // error
	_ = f.SetColWidth(pagesSheet, "A", "A", 38)
	_ = f.SetColWidth(pagesSheet, "B", "B", 28)
	_ = f.SetColWidth(pagesSheet, "H", "H", 48)
	_ = f.SetColWidth(pagesSheet, "J", "J", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"jobs", len(jobs),
		"pages", pageRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) counts(p entity.Page) (sig, stamp int, maxConf float64) {
	for _, d := range p.Detections {
		if d.Confidence > maxConf {
			maxConf = d.Confidence
		}
		if d.Confidence < s.displayThreshold {
			continue
		}
		switch d.Label {
		case constants.LabelSignature:
			sig++
		case constants.LabelStamp:
			stamp++
		}
	}
	return sig, stamp, maxConf
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
