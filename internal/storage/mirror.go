package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// objectPutter is the part of *minio.Client the mirror needs.
type objectPutter interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Mirror copies the artifacts of finished jobs into an S3-compatible bucket.
// The local tree stays authoritative; mirror failures never touch job state.
type Mirror struct {
	client objectPutter
	bucket string
	layout *Layout
	logger *slog.Logger
}

// MirrorOptions configure NewMinioMirror.
type MirrorOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// NewMinioMirror connects to the bucket, creating it when missing.
func NewMinioMirror(ctx context.Context, opts MirrorOptions, layout *Layout, logger *slog.Logger) (*Mirror, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "check bucket %s", opts.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", opts.Bucket)
		}
	}
	return newMirror(client, opts.Bucket, layout, logger), nil
}

func newMirror(client objectPutter, bucket string, layout *Layout, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, bucket: bucket, layout: layout, logger: logger}
}

// MirrorJob uploads every artifact and the manifest of a terminal job.
func (m *Mirror) MirrorJob(ctx context.Context, job entity.Job) error {
	if !job.Terminal() {
		return nil
	}
	uploaded := 0
	for _, page := range job.Pages {
		for _, kind := range []constants.ArtifactKind{constants.ArtifactSource, constants.ArtifactAnnotated, constants.ArtifactHeatmap} {
			p, err := m.layout.PathFor(job.ID, page.Name, kind)
			if err != nil {
				return err
			}
			if _, err := os.Stat(p); err != nil {
				continue
			}
			key := m.layout.ObjectKey(job.ID, page.Name, kind)
			if _, err := m.client.FPutObject(ctx, m.bucket, key, p, minio.PutObjectOptions{ContentType: "image/png"}); err != nil {
				return errors.Wrapf(err, "upload %s", key)
			}
			uploaded++
		}
	}

	if manifest, err := m.layout.ManifestPath(job.ID); err == nil {
		if _, statErr := os.Stat(manifest); statErr == nil {
			key := filepath.ToSlash(filepath.Join(jobsDir, job.ID, manifestFile))
			if _, err := m.client.FPutObject(ctx, m.bucket, key, manifest, minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
				return errors.Wrapf(err, "upload %s", key)
			}
		}
	}

	m.logger.Info("storage.mirror.done", "job_id", job.ID, "bucket", m.bucket, "objects", uploaded)
	return nil
}
