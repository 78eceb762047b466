// Package jobs is the submission and query surface shared by the HTTP
// server, the CLI and the drop-folder watcher.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/registry"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// DefaultMaxUploadBytes caps a single document.
const DefaultMaxUploadBytes = 512 << 20

// Service handles job submission business logic.
type Service struct {
	registry *registry.Registry
	layout   *storage.Layout
	enqueue  registry.EnqueueFunc
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

// WithMaxUploadBytes overrides DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) { s.maxBytes = n }
}

// WithClock overrides time.Now for retention decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new jobs service. enqueue hands new jobs to the worker pool.
func NewService(reg *registry.Registry, layout *storage.Layout, enqueue registry.EnqueueFunc, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry: reg,
		layout:   layout,
		enqueue:  enqueue,
		maxBytes: DefaultMaxUploadBytes,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit stores the document under a new job and enqueues it. A full queue
// returns common.ErrCapacity and leaves nothing behind.
func (s *Service) Submit(ctx context.Context, filename string, body io.Reader) (entity.Job, error) {
	filename = strings.TrimSpace(filepath.Base(filepath.Clean("/" + filename)))
	val := common.NewValidator().Field("filename", filename, common.Required, common.MaxLength(255), common.SupportedDocument)
	if err := val.Err(); err != nil {
		if filename != "" && !constants.AllowedExt(filepath.Ext(filename)) {
			err = errors.Mark(err, common.ErrUnsupported)
		}
		s.logger.Warn("rejected upload", "filename", filename, "error", err)
		return entity.Job{}, err
	}
	logger := common.LoggerFrom(ctx, s.logger)

	id := s.registry.NewID()
	doc, err := s.store(id, filename, body)
	if err != nil {
		s.cleanup(id)
		return entity.Job{}, err
	}

	job, err := s.registry.Create(ctx, registry.CreateRequest{ID: id, Document: doc}, s.enqueue)
	if err != nil {
		s.cleanup(id)
		if errors.Is(err, common.ErrCapacity) {
			logger.Warn("queue full, upload rejected", "filename", filename)
		} else {
			logger.Error("create job failed", "filename", filename, "error", err)
		}
		return entity.Job{}, err
	}
	logger.Info("job submitted", "job_id", job.ID, "filename", filename, "kind", doc.Kind, "size_bytes", doc.SizeBytes)
	return job, nil
}

// store copies the upload into the job's input dir, hashing as it goes.
func (s *Service) store(jobID, filename string, body io.Reader) (entity.Document, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	stored := ingest.SanitizeName(strings.TrimSuffix(filename, filepath.Ext(filename))) + "." + ext
	p, err := s.layout.InputPath(jobID, stored)
	if err != nil {
		return entity.Document{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return entity.Document{}, errors.Wrap(err, "create input dir")
	}
	out, err := os.Create(p)
	if err != nil {
		return entity.Document{}, errors.Wrap(err, "create input file")
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), io.LimitReader(body, s.maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		return entity.Document{}, errors.Wrap(err, "write upload")
	case n == 0:
		return entity.Document{}, errors.Wrap(common.ErrInvalidInput, "document is empty")
	case n > s.maxBytes:
		return entity.Document{}, errors.Wrapf(common.ErrInvalidInput, "document exceeds %d bytes", s.maxBytes)
	}

	return entity.Document{
		Filename:  filename,
		Kind:      constants.KindForExt(ext),
		SizeBytes: n,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
		Path:      p,
	}, nil
}

func (s *Service) cleanup(jobID string) {
	if err := s.layout.RemoveJob(jobID); err != nil {
		s.logger.Warn("cleanup after failed submit", "job_id", jobID, "error", err)
	}
}

// SubmitPath submits a document from the local filesystem.
func (s *Service) SubmitPath(ctx context.Context, path string) (entity.Job, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return entity.Job{}, errors.Wrap(common.ErrInvalidInput, "path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return entity.Job{}, errors.Wrapf(common.ErrInvalidInput, "open %s: %v", path, err)
	}
	defer f.Close()
	return s.Submit(ctx, filepath.Base(path), f)
}

// SubmitResult is the per-file outcome of a directory submission.
type SubmitResult struct {
	Path  string
	JobID string
	Err   string
}

// SubmitDirectory submits every supported document under root, in natural order.
// Per-file failures are reported in the results and do not stop the walk.
func (s *Service) SubmitDirectory(ctx context.Context, root string, skipHidden bool) ([]SubmitResult, ingest.DirStats, error) {
	paths, stats, err := ingest.DiscoverDocuments(root, skipHidden)
	if err != nil {
		return nil, stats, errors.Wrapf(common.ErrInvalidInput, "scan %s: %v", root, err)
	}
	s.logger.Info("starting directory submit", "root", root, "scanned", stats.Scanned, "matched", stats.Matched)

	results := make([]SubmitResult, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return results, stats, err
		}
		r := SubmitResult{Path: p}
		job, err := s.SubmitPath(ctx, p)
		if err != nil {
			r.Err = err.Error()
		} else {
			r.JobID = job.ID
		}
		results = append(results, r)
	}
	return results, stats, nil
}

// Get returns a job snapshot.
func (s *Service) Get(jobID string) (entity.Job, error) {
	if err := common.NewValidator().Field("job_id", jobID, common.Required, common.UUID).Err(); err != nil {
		return entity.Job{}, errors.Mark(err, common.ErrNotFound)
	}
	return s.registry.Get(jobID)
}

// List returns all jobs, newest first.
func (s *Service) List() []entity.Job {
	return s.registry.List()
}

// Delete removes a terminal job and its files.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if _, err := s.Get(jobID); err != nil {
		return err
	}
	if err := s.registry.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := s.layout.RemoveJob(jobID); err != nil {
		s.logger.Error("remove job files", "job_id", jobID, "error", err)
		return err
	}
	return nil
}

// Prune deletes terminal jobs that finished more than olderThan ago and
// returns how many were removed.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, j := range s.registry.List() {
		if !j.Status.IsTerminal() || j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, j.ID); err != nil {
			return removed, err
		}
		removed++
	}
	s.logger.Info("pruned jobs", "removed", removed, "older_than", olderThan)
	return removed, nil
}

// Wait blocks until the job is terminal or ctx ends.
func (s *Service) Wait(ctx context.Context, jobID string) (entity.Job, error) {
	updates, cancel := s.registry.Subscribe()
	defer cancel()

	job, err := s.registry.Get(jobID)
	if err != nil {
		return entity.Job{}, err
	}
	// the poll covers updates dropped for a slow subscriber
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for !job.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case snap := <-updates:
			if snap.ID == jobID {
				job = snap
			}
		case <-tick.C:
			if job, err = s.registry.Get(jobID); err != nil {
				return entity.Job{}, err
			}
		}
	}
	return job, nil
}
