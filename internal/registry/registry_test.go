package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/review"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(review.DefaultPolicy(), nil, opts...)
}

func create(t *testing.T, r *Registry) entity.Job {
	t.Helper()
	job, err := r.Create(context.Background(), CreateRequest{Document: entity.Document{Filename: "a.pdf", Kind: constants.KindPDF}}, nil)
	require.NoError(t, err)
	return job
}

func page(name string, dets ...entity.Detection) entity.Page {
	return entity.Page{Name: name, Detections: dets, QRCodes: []entity.QRDetection{}}
}

func TestLifecycleCompleted(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.Empty(t, job.Pages)

	_, err := r.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, r.SetExpectedPages(job.ID, 2))
	require.NoError(t, r.AppendPage(job.ID, page("p1", entity.Detection{Label: "signature", Confidence: 0.92})))
	require.NoError(t, r.AppendPage(job.ID, page("p2", entity.Detection{Label: "stamp", Confidence: 0.3})))

	done, err := r.Complete(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(done.CreatedAt))
	assert.Equal(t, entity.Summary{Signature: true}, done.Summary)
	assert.Nil(t, done.Error)
	assert.Equal(t, 2, done.TotalPages)
	assert.Equal(t, []string{"p1", "p2"}, []string{done.Pages[0].Name, done.Pages[1].Name})
}

func TestIngestionFailureSkipsRunning(t *testing.T) {
	r := newTestRegistry(t)
	job := create(t, r)

	failed, err := r.Fail(context.Background(), job.ID, "corrupt pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "corrupt pdf", *failed.Error)
	assert.Empty(t, failed.Pages)
	assert.NotNil(t, failed.CompletedAt)
}

func TestIllegalTransitionsAreAssertions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)

	_, err := r.Transition(ctx, job.ID, constants.JobStatusCompleted)
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))

	_, err = r.Transition(ctx, job.ID, constants.JobStatusFailed)
	require.Error(t, err, "failed without message")
	assert.True(t, errors.HasAssertionFailure(err))

	err = r.AppendPage(job.ID, page("p1"))
	require.Error(t, err, "append while pending")
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)
	_, err := r.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	done, err := r.Complete(ctx, job.ID)
	require.NoError(t, err)

	for _, to := range []constants.JobStatus{constants.JobStatusPending, constants.JobStatusRunning, constants.JobStatusCompleted, constants.JobStatusFailed} {
		_, err := r.Transition(ctx, job.ID, to)
		assert.True(t, errors.HasAssertionFailure(err), "transition to %s", to)
	}
	assert.True(t, errors.HasAssertionFailure(r.AppendPage(job.ID, page("late"))))
	assert.True(t, errors.HasAssertionFailure(r.SetError(job.ID, "late")))
	_, err = r.Fail(ctx, job.ID, "late")
	assert.True(t, errors.HasAssertionFailure(err))

	again, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, done, again)
}

func TestPageInvariants(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)
	_, err := r.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, r.SetExpectedPages(job.ID, 1))
	assert.True(t, errors.HasAssertionFailure(r.SetExpectedPages(job.ID, 3)))

	require.NoError(t, r.AppendPage(job.ID, page("p1")))
	assert.True(t, errors.HasAssertionFailure(r.AppendPage(job.ID, page("p2"))), "beyond expected")

	job2 := create(t, r)
	_, err = r.Transition(ctx, job2.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, r.AppendPage(job2.ID, page("p1")))
	assert.True(t, errors.HasAssertionFailure(r.AppendPage(job2.ID, page("p1"))), "duplicate name")

	_, err = r.Transition(ctx, job.ID, constants.JobStatusCompleted)
	require.NoError(t, err)
}

func TestCompleteRequiresAllPages(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)
	_, err := r.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, r.SetExpectedPages(job.ID, 2))
	require.NoError(t, r.AppendPage(job.ID, page("p1")))

	_, err = r.Complete(ctx, job.ID)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestSnapshotsAreStable(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)
	_, err := r.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, r.AppendPage(job.ID, page("p1", entity.Detection{Label: "stamp", Confidence: 0.9})))

	snap, err := r.Get(job.ID)
	require.NoError(t, err)
	snap.Pages[0].Detections[0].Label = "mutated"

	require.NoError(t, r.AppendPage(job.ID, page("p2")))
	assert.Len(t, snap.Pages, 1, "earlier snapshot does not grow")

	fresh, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "stamp", fresh.Pages[0].Detections[0].Label)
	assert.Len(t, fresh.Pages, 2)
}

func TestGetUnknown(t *testing.T) {
	_, err := newTestRegistry(t).Get("nope")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestCreateRollsBackOnEnqueueFailure(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create(context.Background(), CreateRequest{ID: "j1"}, func(context.Context, string) error {
		return common.ErrCapacity
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrCapacity))
	assert.Empty(t, r.List())

	_, err = r.Create(context.Background(), CreateRequest{ID: "j1"}, nil)
	require.NoError(t, err)
	_, err = r.Create(context.Background(), CreateRequest{ID: "j1"}, nil)
	assert.True(t, errors.Is(err, common.ErrConflict))
}

func TestListNewestFirst(t *testing.T) {
	r := newTestRegistry(t)
	a := create(t, r)
	b := create(t, r)
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	job := create(t, r)
	assert.True(t, errors.Is(r.Delete(ctx, job.ID), common.ErrConflict))

	_, err := r.Fail(ctx, job.ID, "x")
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, job.ID))
	_, err = r.Get(job.ID)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestSubscribeSeesEveryChange(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	ch, cancel := r.Subscribe()
	defer cancel()

	job := create(t, r)
	_, err := r.Transition(ctx, job.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	require.NoError(t, r.AppendPage(job.ID, page("p1")))
	_, err = r.Complete(ctx, job.ID)
	require.NoError(t, err)

	var statuses []constants.JobStatus
	for i := 0; i < 4; i++ {
		statuses = append(statuses, (<-ch).Status)
	}
	assert.Equal(t, []constants.JobStatus{
		constants.JobStatusPending, constants.JobStatusRunning, constants.JobStatusRunning, constants.JobStatusCompleted,
	}, statuses)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestRehydrateMarksUnfinishedJobsFailed(t *testing.T) {
	ctx := context.Background()
	layout, err := storage.NewLayout(t.TempDir(), "/media", nil)
	require.NoError(t, err)
	store := NewManifestStore(layout, nil)

	first := newTestRegistry(t, WithStore(store))
	running := create(t, first)
	_, err = first.Transition(ctx, running.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	pending := create(t, first)
	done := create(t, first)
	_, err = first.Transition(ctx, done.ID, constants.JobStatusRunning)
	require.NoError(t, err)
	_, err = first.Complete(ctx, done.ID)
	require.NoError(t, err)

	second := newTestRegistry(t, WithStore(store))
	n, err := second.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []string{running.ID, pending.ID} {
		job, err := second.Get(id)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusFailed, job.Status)
		require.NotNil(t, job.Error)
		assert.Equal(t, InterruptedMessage, *job.Error)
	}
	job, err := second.Get(done.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, job.Status)

	// the interrupted state was written back
	third := newTestRegistry(t, WithStore(store))
	_, err = third.Rehydrate(ctx)
	require.NoError(t, err)
	job, err = third.Get(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
}
