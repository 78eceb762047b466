package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/registry"
	"github.com/joseph-ayodele/docscan/internal/review"
)

func openTestRepo(t *testing.T) JobRepository {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.HealthCheck(context.Background(), time.Second, nil))

	repo := NewJobRepository(db, nil)
	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, repo.Migrate(context.Background()), "migrate is idempotent")
	return repo
}

func sampleJob(id string, created time.Time) entity.Job {
	done := created.Add(3 * time.Second)
	url := "/media/jobs/" + id + "/pages/a_page_001/source.png"
	return entity.Job{
		ID:          id,
		Status:      constants.JobStatusCompleted,
		CreatedAt:   created,
		CompletedAt: &done,
		Summary:     entity.Summary{Signature: true},
		TotalPages:  1,
		Document:    entity.Document{Filename: "a.pdf", Kind: constants.KindPDF, SizeBytes: 1234, SHA256: "abc"},
		Pages: []entity.Page{{
			Name:      "a_page_001",
			SourceURL: &url,
			Detections: []entity.Detection{
				{Label: "signature", Confidence: 0.92, BBox: entity.BBox{1, 2, 30, 40}},
			},
			QRCodes: []entity.QRDetection{{Text: "https://example.org", Polygon: []entity.Point{{0, 0}, {9, 0}, {9, 9}, {0, 9}}}},
		}},
	}
}

func TestJobRepositorySaveGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	job := sampleJob("job-1", created)

	require.NoError(t, repo.Save(ctx, job))
	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestJobRepositoryUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := entity.Job{ID: "j", Status: constants.JobStatusPending, CreatedAt: created, Pages: []entity.Page{}}
	require.NoError(t, repo.Save(ctx, pending))

	msg := "corrupt pdf"
	failed := pending
	failed.Status = constants.JobStatusFailed
	failed.Error = &msg
	failed.CompletedAt = &created
	require.NoError(t, repo.Save(ctx, failed))

	got, err := repo.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
	assert.Empty(t, got.Pages)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[constants.JobStatus]int{constants.JobStatusFailed: 1}, counts)
}

func TestJobRepositoryLoadAllAndDelete(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.Save(ctx, sampleJob(id, base.Add(time.Duration(i)*time.Hour))))
	}

	jobs, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	require.NoError(t, repo.Delete(ctx, "mid"))
	require.NoError(t, repo.Delete(ctx, "mid"), "delete is idempotent")
	jobs, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestJobRepositoryBacksRegistry(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	reg := registry.New(review.DefaultPolicy(), nil, registry.WithStore(repo))
	job, err := reg.Create(ctx, registry.CreateRequest{Document: entity.Document{Filename: "x.png", Kind: constants.KindImage}}, nil)
	require.NoError(t, err)
	_, err = reg.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)

	restarted := registry.New(review.DefaultPolicy(), nil, registry.WithStore(repo))
	n, err := restarted.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := restarted.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, registry.InterruptedMessage, *got.Error)

	stored, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, stored.Status)
}
