// Package storage owns the on-disk artifact namespace of every job.
package storage

import (
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
)

const (
	jobsDir      = "jobs"
	pagesDir     = "pages"
	inputDir     = "input"
	stagingDir   = "staging"
	manifestFile = "job.json"
)

// Layout maps (job, page, artifact) triples onto paths under Root and
// URLs under URLPrefix. Two distinct triples never share a path.
type Layout struct {
	Root      string
	URLPrefix string
	logger    *slog.Logger
}

// NewLayout creates the media root if needed.
func NewLayout(root, urlPrefix string, logger *slog.Logger) (*Layout, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve media root %s", root)
	}
	if err := os.MkdirAll(filepath.Join(abs, jobsDir), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create media root %s", abs)
	}
	return &Layout{
		Root:      abs,
		URLPrefix: "/" + strings.Trim(urlPrefix, "/"),
		logger:    logger,
	}, nil
}

// ValidateSegment rejects identifiers that could escape their directory.
func ValidateSegment(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Wrapf(common.ErrInvalidInput, "invalid path segment %q", name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."), strings.ContainsRune(name, 0):
		return errors.Wrapf(common.ErrInvalidInput, "invalid path segment %q", name)
	}
	return nil
}

// JobDir is the directory that holds everything belonging to a job.
func (l *Layout) JobDir(jobID string) (string, error) {
	if err := ValidateSegment(jobID); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, jobsDir, jobID), nil
}

// JobsRoot is the parent of all job directories.
func (l *Layout) JobsRoot() string {
	return filepath.Join(l.Root, jobsDir)
}

// ManifestPath is where the durable job record lives for the file store.
func (l *Layout) ManifestPath(jobID string) (string, error) {
	dir, err := l.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, manifestFile), nil
}

// InputPath is where the uploaded document is kept.
func (l *Layout) InputPath(jobID, filename string) (string, error) {
	dir, err := l.JobDir(jobID)
	if err != nil {
		return "", err
	}
	base := filepath.Base(filepath.Clean("/" + filename))
	if err := ValidateSegment(base); err != nil {
		return "", err
	}
	return filepath.Join(dir, inputDir, base), nil
}

// StagingDir is scratch space for rasterized pages before analysis.
func (l *Layout) StagingDir(jobID string) (string, error) {
	dir, err := l.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stagingDir), nil
}

// PathFor returns the filesystem path of a page artifact.
func (l *Layout) PathFor(jobID, pageName string, kind constants.ArtifactKind) (string, error) {
	dir, err := l.pageDir(jobID, pageName)
	if err != nil {
		return "", err
	}
	if err := validKind(kind); err != nil {
		return "", err
	}
	return filepath.Join(dir, string(kind)+".png"), nil
}

// URLFor returns the URL under which PathFor is served.
func (l *Layout) URLFor(jobID, pageName string, kind constants.ArtifactKind) (string, error) {
	if err := ValidateSegment(jobID); err != nil {
		return "", err
	}
	if err := ValidateSegment(pageName); err != nil {
		return "", err
	}
	if err := validKind(kind); err != nil {
		return "", err
	}
	return path.Join(l.URLPrefix, jobsDir, url.PathEscape(jobID), pagesDir, url.PathEscape(pageName), string(kind)+".png"), nil
}

// ObjectKey is the slash-separated key of a page artifact relative to Root.
func (l *Layout) ObjectKey(jobID, pageName string, kind constants.ArtifactKind) string {
	return path.Join(jobsDir, jobID, pagesDir, pageName, string(kind)+".png")
}

// WriteArtifact stores data for a page artifact and returns its URL.
// The file is written to a temp name and renamed, so readers never see a partial PNG.
func (l *Layout) WriteArtifact(jobID, pageName string, kind constants.ArtifactKind, data []byte) (string, error) {
	p, err := l.PathFor(jobID, pageName, kind)
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(p, data); err != nil {
		return "", err
	}
	return l.URLFor(jobID, pageName, kind)
}

// RemoveArtifact deletes a page artifact if present.
func (l *Layout) RemoveArtifact(jobID, pageName string, kind constants.ArtifactKind) {
	p, err := l.PathFor(jobID, pageName, kind)
	if err != nil {
		return
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("storage.remove_artifact.failed", "job_id", jobID, "page", pageName, "kind", kind, "error", err)
	}
}

// RemoveStaging drops the scratch directory of a job.
func (l *Layout) RemoveStaging(jobID string) {
	dir, err := l.StagingDir(jobID)
	if err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		l.logger.Warn("storage.remove_staging.failed", "job_id", jobID, "error", err)
	}
}

// RemoveJob deletes every file of a job.
func (l *Layout) RemoveJob(jobID string) error {
	dir, err := l.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "remove job dir %s", jobID)
	}
	return nil
}

func (l *Layout) pageDir(jobID, pageName string) (string, error) {
	dir, err := l.JobDir(jobID)
	if err != nil {
		return "", err
	}
	if err := ValidateSegment(pageName); err != nil {
		return "", err
	}
	return filepath.Join(dir, pagesDir, pageName), nil
}

func validKind(kind constants.ArtifactKind) error {
	switch kind {
	case constants.ArtifactSource, constants.ArtifactAnnotated, constants.ArtifactHeatmap:
		return nil
	}
	return errors.Wrapf(common.ErrInvalidInput, "unknown artifact kind %q", kind)
}

// WriteFileAtomic writes data next to p and renames it into place.
func WriteFileAtomic(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "create dir for %s", p)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return errors.Wrapf(err, "write %s", p)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return errors.Wrapf(err, "close %s", p)
	}
	if err := os.Rename(name, p); err != nil {
		_ = os.Remove(name)
		return errors.Wrapf(err, "rename into %s", p)
	}
	return nil
}
