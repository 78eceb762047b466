package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/internal/common"
)

// OwnershipHook observes workers taking (+1) and releasing (-1) a job.
type OwnershipHook func(jobID string, delta int)

// Pool is a fixed set of workers draining a bounded FIFO of job ids.
// Enqueue never blocks: a full queue is reported as common.ErrCapacity.
type Pool struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration
	hook    OwnershipHook

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
}

var _ Queue = (*Pool)(nil)

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithOwnershipHook(h OwnershipHook) Option {
	return func(p *Pool) { p.hook = h }
}

func NewPool(runner Runner, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		runner:   runner,
		logger:   logger,
		workers:  2,
		timeout:  10 * time.Minute,
		ch:       make(chan Job, 64),
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Info("async.worker.started", "worker_id", workerID)
				for job := range p.ch {
					p.run(workerID, job)
				}
				p.logger.Info("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) run(workerID int, job Job) {
	if !p.acquire(job.ID) {
		p.logger.Error("async.job.already_owned", "worker_id", workerID, "job_id", job.ID)
		return
	}
	defer p.release(job.ID)

	ctx, cancel := context.WithTimeout(common.WithJobID(context.Background(), job.ID), p.timeout)
	defer cancel()

	start := time.Now()
	err := p.safeRun(ctx, job.ID)
	if err != nil {
		p.logger.Error("async.job.failed", "worker_id", workerID, "job_id", job.ID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return
	}
	p.logger.Info("async.job.done", "worker_id", workerID, "job_id", job.ID,
		"wait_ms", start.Sub(job.SubmittedAt).Milliseconds(), "elapsed_ms", time.Since(start).Milliseconds())
}

func (p *Pool) safeRun(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("worker panic: %s", fmt.Sprint(r))
		}
	}()
	return p.runner.ProcessJob(ctx, jobID)
}

func (p *Pool) acquire(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[jobID]; busy {
		return false
	}
	p.inflight[jobID] = struct{}{}
	if p.hook != nil {
		p.hook(jobID, 1)
	}
	return true
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, jobID)
	if p.hook != nil {
		p.hook(jobID, -1)
	}
}

// Enqueue schedules jobID without blocking.
func (p *Pool) Enqueue(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("async.enqueue.rejected", "job_id", jobID, "reason", "shutting down")
		return errors.Wrap(common.ErrCapacity, "queue is shutting down")
	}
	select {
	case p.ch <- Job{ID: jobID, SubmittedAt: time.Now()}:
		p.logger.Info("async.enqueue.ok", "job_id", jobID, "depth", len(p.ch))
		return nil
	default:
		p.logger.Warn("async.enqueue.rejected", "job_id", jobID, "reason", "queue full", "capacity", cap(p.ch))
		return errors.Wrapf(common.ErrCapacity, "queue full (%d pending)", cap(p.ch))
	}
}

// Depth is the number of jobs waiting for a worker.
func (p *Pool) Depth() int {
	return len(p.ch)
}

// Shutdown stops accepting work and waits for queued jobs to drain or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("async.shutdown.interrupted")
	case <-done:
		p.logger.Info("async.shutdown.drained")
	}
}
