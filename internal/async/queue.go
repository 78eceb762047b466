package async

import (
	"context"
	"time"
)

// Job is the unit handed to a worker: the id of a pending registry job.
type Job struct {
	ID          string
	SubmittedAt time.Time
}

// Queue accepts job ids for background processing.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Shutdown(ctx context.Context)
}

// Runner processes one job to a terminal state.
type Runner interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, jobID string) error

func (f RunnerFunc) ProcessJob(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}
