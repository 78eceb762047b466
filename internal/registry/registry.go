// Package registry is the in-memory source of truth for job state.
//
// Every job has exactly one writer at a time (the worker that owns it);
// readers always receive deep copies, so a snapshot never changes after
// it is returned. Illegal state changes are programming errors and are
// reported as assertion failures.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// InterruptedMessage is recorded on jobs found unfinished at startup.
const InterruptedMessage = "interrupted by restart"

const subscriberBuffer = 256

// Summarizer folds the pages of a completed job into its summary.
type Summarizer interface {
	Summarize(pages []entity.Page) entity.Summary
}

// Store persists job records across restarts.
type Store interface {
	Save(ctx context.Context, job entity.Job) error
	LoadAll(ctx context.Context) ([]entity.Job, error)
	Delete(ctx context.Context, jobID string) error
}

// EnqueueFunc hands a freshly created job to the worker pool. It must not block.
type EnqueueFunc func(ctx context.Context, jobID string) error

// CreateRequest describes a new job. ID is generated when empty.
type CreateRequest struct {
	ID       string
	Document entity.Document
}

type record struct {
	mu       sync.RWMutex
	job      entity.Job
	expected int // -1 until the page count is known
	names    map[string]struct{}
}

// Registry tracks every job known to this process.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record

	subMu       sync.RWMutex
	subscribers []chan entity.Job

	summarizer Summarizer
	store      Store
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore mirrors lifecycle writes to a durable store.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(summarizer Summarizer, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		records:    make(map[string]*record),
		summarizer: summarizer,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewID returns a fresh job id.
func (r *Registry) NewID() string {
	return uuid.NewString()
}

// Create registers a pending job and, when enqueue is set, hands it to the
// pool in the same step. If enqueue fails the job is forgotten and the
// error is returned unchanged.
func (r *Registry) Create(ctx context.Context, req CreateRequest, enqueue EnqueueFunc) (entity.Job, error) {
	id := req.ID
	if id == "" {
		id = r.NewID()
	}
	rec := &record{
		job: entity.Job{
			ID:        id,
			Status:    constants.JobStatusPending,
			CreatedAt: r.now().UTC(),
			Pages:     []entity.Page{},
			Document:  req.Document,
		},
		expected: -1,
		names:    map[string]struct{}{},
	}

	r.mu.Lock()
	if _, exists := r.records[id]; exists {
		r.mu.Unlock()
		return entity.Job{}, errors.Wrapf(common.ErrConflict, "job id %s already exists", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	r.records[id] = rec
	if enqueue != nil {
		if err := enqueue(ctx, id); err != nil {
			delete(r.records, id)
			r.mu.Unlock()
			return entity.Job{}, err
		}
	}
	r.mu.Unlock()

	r.persist(ctx, rec.job)
	snap := rec.job.Clone()
	r.notify(snap)
	r.logger.Info("registry.job.created", "job_id", id, "filename", req.Document.Filename, "kind", req.Document.Kind)
	return snap, nil
}

// Get returns a snapshot of one job.
func (r *Registry) Get(jobID string) (entity.Job, error) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return entity.Job{}, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.job.Clone(), nil
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []entity.Job {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]entity.Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.RLock()
		out = append(out, rec.job.Clone())
		rec.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Transition moves a job along one edge of the state machine.
// Moving to failed requires an error recorded with SetError; moving to
// completed recomputes the summary from the final pages.
func (r *Registry) Transition(ctx context.Context, jobID string, to constants.JobStatus) (entity.Job, error) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return entity.Job{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return r.transitionLocked(ctx, rec, to)
}

func (r *Registry) transitionLocked(ctx context.Context, rec *record, to constants.JobStatus) (entity.Job, error) {
	job := &rec.job
	if !constants.CanTransition(job.Status, to) {
		return entity.Job{}, errors.AssertionFailedf("job %s: illegal transition %s -> %s", job.ID, job.Status, to)
	}
	switch to {
	case constants.JobStatusFailed:
		if job.Error == nil {
			return entity.Job{}, errors.AssertionFailedf("job %s: failed without an error message", job.ID)
		}
	case constants.JobStatusCompleted:
		if job.Error != nil {
			return entity.Job{}, errors.AssertionFailedf("job %s: completed with an error message", job.ID)
		}
		if rec.expected >= 0 && len(job.Pages) != rec.expected {
			return entity.Job{}, errors.AssertionFailedf("job %s: completed with %d of %d pages", job.ID, len(job.Pages), rec.expected)
		}
		if r.summarizer != nil {
			job.Summary = r.summarizer.Summarize(job.Pages)
		}
	}

	from := job.Status
	job.Status = to
	if to.IsTerminal() {
		done := r.now().UTC()
		if done.Before(job.CreatedAt) {
			done = job.CreatedAt
		}
		job.CompletedAt = &done
	}

	r.persist(ctx, *job)
	snap := job.Clone()
	r.notify(snap)
	r.logger.Info("registry.job.transition", "job_id", job.ID, "from", from, "to", to, "pages", len(job.Pages))
	return snap, nil
}

// Complete is Transition(running -> completed).
func (r *Registry) Complete(ctx context.Context, jobID string) (entity.Job, error) {
	return r.Transition(ctx, jobID, constants.JobStatusCompleted)
}

// SetError records the failure message of a job that is about to fail.
func (r *Registry) SetError(jobID, msg string) error {
	rec, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return setErrorLocked(rec, msg)
}

func setErrorLocked(rec *record, msg string) error {
	if rec.job.Status.IsTerminal() {
		return errors.AssertionFailedf("job %s: error set on terminal job", rec.job.ID)
	}
	if msg == "" {
		msg = "unknown error"
	}
	rec.job.Error = &msg
	return nil
}

// Fail records msg and moves the job to failed in one step.
func (r *Registry) Fail(ctx context.Context, jobID, msg string) (entity.Job, error) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return entity.Job{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := setErrorLocked(rec, msg); err != nil {
		return entity.Job{}, err
	}
	return r.transitionLocked(ctx, rec, constants.JobStatusFailed)
}

// SetExpectedPages fixes the page count once ingestion knows it.
func (r *Registry) SetExpectedPages(jobID string, n int) error {
	rec, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch {
	case n < 0:
		return errors.AssertionFailedf("job %s: negative page count %d", jobID, n)
	case rec.job.Status.IsTerminal():
		return errors.AssertionFailedf("job %s: page count set on terminal job", jobID)
	case rec.expected >= 0 && rec.expected != n:
		return errors.AssertionFailedf("job %s: page count already set to %d", jobID, rec.expected)
	}
	rec.expected = n
	rec.job.TotalPages = n
	r.notify(rec.job.Clone())
	return nil
}

// AppendPage adds a page result to a running job.
func (r *Registry) AppendPage(jobID string, page entity.Page) error {
	rec, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	job := &rec.job
	switch {
	case job.Status != constants.JobStatusRunning:
		return errors.AssertionFailedf("job %s: page appended while %s", jobID, job.Status)
	case page.Name == "":
		return errors.AssertionFailedf("job %s: page without a name", jobID)
	case rec.expected >= 0 && len(job.Pages) >= rec.expected:
		return errors.AssertionFailedf("job %s: more than %d pages", jobID, rec.expected)
	}
	if _, dup := rec.names[page.Name]; dup {
		return errors.AssertionFailedf("job %s: duplicate page %s", jobID, page.Name)
	}
	rec.names[page.Name] = struct{}{}
	job.Pages = append(job.Pages, page.Clone())
	r.notify(job.Clone())
	return nil
}

// Delete forgets a terminal job and removes it from the store.
func (r *Registry) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	rec, ok := r.records[jobID]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(common.ErrNotFound, "job %s", jobID)
	}
	rec.mu.RLock()
	terminal := rec.job.Status.IsTerminal()
	rec.mu.RUnlock()
	if !terminal {
		r.mu.Unlock()
		return errors.Wrapf(common.ErrConflict, "job %s is still in progress", jobID)
	}
	delete(r.records, jobID)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Delete(ctx, jobID); err != nil {
			return errors.Wrapf(err, "delete job %s from store", jobID)
		}
	}
	r.logger.Info("registry.job.deleted", "job_id", jobID)
	return nil
}

// Rehydrate loads persisted jobs. Jobs that never reached a terminal state
// are marked failed because no worker owns them anymore.
func (r *Registry) Rehydrate(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	jobs, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load jobs")
	}

	loaded, interrupted := 0, 0
	for _, job := range jobs {
		if job.ID == "" || !job.Status.Valid() {
			r.logger.Warn("registry.rehydrate.skip_invalid", "job_id", job.ID, "status", job.Status)
			continue
		}
		if job.Pages == nil {
			job.Pages = []entity.Page{}
		}
		rec := &record{job: job, expected: -1, names: map[string]struct{}{}}
		for _, p := range job.Pages {
			rec.names[p.Name] = struct{}{}
		}

		r.mu.Lock()
		if _, exists := r.records[job.ID]; exists {
			r.mu.Unlock()
			continue
		}
		r.records[job.ID] = rec
		r.mu.Unlock()
		loaded++

		if !job.Status.IsTerminal() {
			if _, err := r.Fail(ctx, job.ID, InterruptedMessage); err != nil {
				return loaded, err
			}
			interrupted++
		}
	}
	r.logger.Info("registry.rehydrated", "jobs", loaded, "interrupted", interrupted)
	return loaded, nil
}

// Subscribe returns a channel of job snapshots taken after every change.
// Slow subscribers miss updates rather than stall writers. Call cancel to stop.
func (r *Registry) Subscribe() (<-chan entity.Job, func()) {
	ch := make(chan entity.Job, subscriberBuffer)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			for i, sub := range r.subscribers {
				if sub == ch {
					r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Registry) notify(job entity.Job) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- job.Clone():
		default:
			r.logger.Warn("registry.subscriber.dropped", "job_id", job.ID, "status", job.Status)
		}
	}
}

func (r *Registry) persist(ctx context.Context, job entity.Job) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, job); err != nil {
		r.logger.Error("registry.persist.failed", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (r *Registry) lookup(jobID string) (*record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[jobID]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "job %s", jobID)
	}
	return rec, nil
}
