package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/export"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportReport serves every job, optionally bounded by from/to (YYYY-MM-DD).
// Only from -> from..today (inclusive); only to -> beginning..to (inclusive).
func (s *Server) exportReport(c *gin.Context) {
	var filter export.Filter
	if fd := strings.TrimSpace(c.Query("from")); fd != "" {
		t, err := time.Parse("2006-01-02", fd)
		if err != nil {
			s.fail(c, errors.Wrap(common.ErrInvalidInput, "from must be YYYY-MM-DD"))
			return
		}
		filter.From = &t
	}
	if td := strings.TrimSpace(c.Query("to")); td != "" {
		t, err := time.Parse("2006-01-02", td)
		if err != nil {
			s.fail(c, errors.Wrap(common.ErrInvalidInput, "to must be YYYY-MM-DD"))
			return
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}

	data, err := s.reports.ExportJobsXLSX(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.sendXLSX(c, "docscan-report.xlsx", data)
}

func (s *Server) exportJobReport(c *gin.Context) {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := s.reports.ExportJobsXLSX(c.Request.Context(), export.Filter{JobIDs: []string{job.ID}})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.sendXLSX(c, fmt.Sprintf("docscan-%s.xlsx", job.ID), data)
}

func (s *Server) sendXLSX(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, data)
}
