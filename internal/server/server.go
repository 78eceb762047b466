// Package server exposes jobs over HTTP: upload, polling, reports, artifacts
// and a websocket stream of job snapshots.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/export"
	"github.com/joseph-ayodele/docscan/internal/services/jobs"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

const requestIDHeader = "X-Request-ID"

// Subscriber is the push side of the registry.
type Subscriber interface {
	Subscribe() (<-chan entity.Job, func())
}

// Health reports liveness details for GET /health.
type Health struct {
	QueueDepth func() int
	Detector   func() string
}

type Server struct {
	jobs     *jobs.Service
	reports  *export.Service
	updates  Subscriber
	layout   *storage.Layout
	health   Health
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(svc *jobs.Service, reports *export.Service, updates Subscriber, layout *storage.Layout, health Health, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jobs:    svc,
		reports: reports,
		updates: updates,
		layout:  layout,
		health:  health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			// the stream carries no credentials
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/health", s.getHealth)

	api := r.Group("/api/jobs")
	api.POST("", s.createJob)
	api.GET("", s.listJobs)
	api.GET("/stream", s.stream)
	api.GET("/report.xlsx", s.exportReport)
	api.GET("/:id", s.getJob)
	api.DELETE("/:id", s.deleteJob)
	api.GET("/:id/report.xlsx", s.exportJobReport)

	r.GET(s.layout.URLPrefix+"/jobs/:id/pages/:page/:file", s.serveArtifact)
	return r
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		}
		logger := common.LoggerFrom(c.Request.Context(), s.logger)
		switch {
		case status >= 500:
			logger.Error("http.request", attrs...)
		case c.Request.URL.Path == "/health":
			logger.Debug("http.request", attrs...)
		default:
			logger.Info("http.request", attrs...)
		}
	}
}

func (s *Server) getHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.health.QueueDepth != nil {
		body["queue_depth"] = s.health.QueueDepth()
	}
	if s.health.Detector != nil {
		body["detector"] = s.health.Detector()
	}
	c.JSON(http.StatusOK, body)
}

// fail writes err with the status its class maps to. Internal errors are
// logged and returned without detail.
func (s *Server) fail(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	msg := common.Sanitize(err, s.layout.Root)
	if status >= 500 {
		common.LoggerFrom(c.Request.Context(), s.logger).Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
