package server

import (
	"mime/multipart"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// createJob accepts a multipart upload in the "file" field.
func (s *Server) createJob(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		s.fail(c, errors.Wrap(common.ErrInvalidInput, "file required"))
		return
	}

	f, err := file.Open()
	if err != nil {
		s.fail(c, errors.Wrap(common.ErrInvalidInput, "unreadable upload"))
		return
	}
	defer func(f multipart.File) { _ = f.Close() }(f)

	job, err := s.jobs.Submit(c.Request.Context(), file.Filename, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) listJobs(c *gin.Context) {
	list := s.jobs.List()
	if st := c.Query("status"); st != "" {
		status := constants.JobStatus(st)
		if !status.Valid() {
			s.fail(c, errors.Wrapf(common.ErrInvalidInput, "unknown status %q", st))
			return
		}
		filtered := list[:0]
		for _, j := range list {
			if j.Status == status {
				filtered = append(filtered, j)
			}
		}
		list = filtered
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) deleteJob(c *gin.Context) {
	if err := s.jobs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

var artifactFiles = map[string]constants.ArtifactKind{
	"source.png":    constants.ArtifactSource,
	"annotated.png": constants.ArtifactAnnotated,
	"heatmap.png":   constants.ArtifactHeatmap,
}

// serveArtifact resolves page artifacts through the layout only.
func (s *Server) serveArtifact(c *gin.Context) {
	kind, ok := artifactFiles[c.Param("file")]
	if !ok {
		s.fail(c, errors.Wrap(common.ErrNotFound, "unknown artifact"))
		return
	}
	id, page := c.Param("id"), c.Param("page")
	if storage.ValidateSegment(id) != nil || storage.ValidateSegment(page) != nil {
		s.fail(c, errors.Wrap(common.ErrNotFound, "unknown artifact"))
		return
	}
	p, err := s.layout.PathFor(id, page, kind)
	if err != nil {
		s.fail(c, errors.Mark(err, common.ErrNotFound))
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(p)
}
