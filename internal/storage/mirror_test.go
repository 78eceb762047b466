package storage

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

type fakePutter struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePutter) FPutObject(_ context.Context, bucket, object, _ string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, object)
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func TestMirrorJobUploadsExistingArtifacts(t *testing.T) {
	l := newTestLayout(t)
	_, err := l.WriteArtifact("j", "p1", constants.ArtifactSource, []byte("a"))
	require.NoError(t, err)
	_, err = l.WriteArtifact("j", "p1", constants.ArtifactAnnotated, []byte("b"))
	require.NoError(t, err)

	put := &fakePutter{}
	m := newMirror(put, "bucket", l, nil)

	job := entity.Job{ID: "j", Status: constants.JobStatusCompleted, Pages: []entity.Page{{Name: "p1"}}}
	require.NoError(t, m.MirrorJob(context.Background(), job))

	sort.Strings(put.keys)
	assert.Equal(t, []string{"jobs/j/pages/p1/annotated.png", "jobs/j/pages/p1/source.png"}, put.keys)
}

func TestMirrorSkipsRunningJobs(t *testing.T) {
	put := &fakePutter{}
	m := newMirror(put, "bucket", newTestLayout(t), nil)
	require.NoError(t, m.MirrorJob(context.Background(), entity.Job{ID: "j", Status: constants.JobStatusRunning}))
	assert.Empty(t, put.keys)
}
