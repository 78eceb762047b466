package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// ManifestStore keeps one job.json per job inside the job's media directory,
// so the artifact tree alone is enough to rebuild the registry.
type ManifestStore struct {
	layout *storage.Layout
	logger *slog.Logger
}

func NewManifestStore(layout *storage.Layout, logger *slog.Logger) *ManifestStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestStore{layout: layout, logger: logger}
}

// Save writes the manifest atomically.
func (s *ManifestStore) Save(_ context.Context, job entity.Job) error {
	p, err := s.layout.ManifestPath(job.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	return storage.WriteFileAtomic(p, data)
}

// LoadAll reads every manifest under the jobs root. Unreadable manifests
// are logged and skipped.
func (s *ManifestStore) LoadAll(ctx context.Context) ([]entity.Job, error) {
	entries, err := os.ReadDir(s.layout.JobsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read jobs dir")
	}

	var jobs []entity.Job
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(s.layout.JobsRoot(), e.Name(), "job.json")
		data, err := os.ReadFile(p)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("registry.manifest.read_failed", "path", p, "error", err)
			}
			continue
		}
		var job entity.Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.logger.Warn("registry.manifest.decode_failed", "path", p, "error", err)
			continue
		}
		if job.ID != e.Name() {
			s.logger.Warn("registry.manifest.id_mismatch", "path", p, "job_id", job.ID)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Delete removes the manifest; artifacts are the caller's concern.
func (s *ManifestStore) Delete(_ context.Context, jobID string) error {
	p, err := s.layout.ManifestPath(jobID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove manifest %s", jobID)
	}
	return nil
}
