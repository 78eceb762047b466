package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// Event is the message body published for a job change.
type Event struct {
	Type       string              `json:"type"`
	JobID      string              `json:"job_id"`
	Status     constants.JobStatus `json:"status"`
	Pages      int                 `json:"pages"`
	TotalPages int                 `json:"total_pages"`
	Summary    entity.Summary      `json:"summary"`
	Error      *string             `json:"error,omitempty"`
	At         time.Time           `json:"at"`
}

const (
	EventStatus = "status"
	EventPage   = "page"
)

// TerminalHook runs once per job when it reaches completed or failed.
type TerminalHook func(ctx context.Context, job entity.Job) error

// Relay turns a stream of registry snapshots into broker events and
// terminal hooks. Snapshots that change neither status nor page count are ignored.
type Relay struct {
	publisher Publisher
	hooks     []TerminalHook
	now       func() time.Time
	logger    *slog.Logger

	seen map[string]progress
}

type progress struct {
	status constants.JobStatus
	pages  int
}

type RelayOption func(*Relay)

// WithPublisher sends events to a broker.
func WithPublisher(p Publisher) RelayOption {
	return func(r *Relay) { r.publisher = p }
}

// WithTerminalHook adds a hook run on terminal snapshots.
func WithTerminalHook(h TerminalHook) RelayOption {
	return func(r *Relay) { r.hooks = append(r.hooks, h) }
}

func NewRelay(logger *slog.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{now: time.Now, logger: logger, seen: map[string]progress{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes snapshots until ctx is done or the channel closes.
func (r *Relay) Run(ctx context.Context, snapshots <-chan entity.Job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-snapshots:
			if !ok {
				return nil
			}
			r.handle(ctx, job)
		}
	}
}

func (r *Relay) handle(ctx context.Context, job entity.Job) {
	prev, known := r.seen[job.ID]
	cur := progress{status: job.Status, pages: len(job.Pages)}
	if known && prev == cur {
		return
	}
	r.seen[job.ID] = cur

	kind := EventPage
	if !known || prev.status != cur.status {
		kind = EventStatus
	}
	r.publish(ctx, kind, job)

	if job.Status.IsTerminal() {
		for _, h := range r.hooks {
			if err := h(ctx, job); err != nil {
				r.logger.Error("events.hook.failed", "job_id", job.ID, "status", job.Status, "error", err)
			}
		}
		// terminal snapshots never change again
		delete(r.seen, job.ID)
	}
}

func (r *Relay) publish(ctx context.Context, kind string, job entity.Job) {
	if r.publisher == nil {
		return
	}
	body, err := json.Marshal(Event{
		Type:       kind,
		JobID:      job.ID,
		Status:     job.Status,
		Pages:      len(job.Pages),
		TotalPages: job.TotalPages,
		Summary:    job.Summary,
		Error:      job.Error,
		At:         r.now().UTC(),
	})
	if err != nil {
		r.logger.Error("events.marshal.failed", "job_id", job.ID, "error", err)
		return
	}
	key := "job." + string(job.Status)
	if kind == EventPage {
		key = "job.page"
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pctx, key, body); err != nil {
		r.logger.Warn("events.publish.failed", "job_id", job.ID, "routing_key", key, "error", err)
		return
	}
	r.logger.Debug("events.published", "job_id", job.ID, "routing_key", key)
}
