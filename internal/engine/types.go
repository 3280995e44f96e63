package engine

import (
	"context"
	"errors"
	"time"

	"evron/internal/job"
)

var (
	// ErrQueueFull is returned by Launch when the job queue is saturated.
	ErrQueueFull = errors.New("job queue full")

	// ErrStopped is returned by Launch while the engine is not running.
	ErrStopped = errors.New("engine stopped")

	// ErrMaxChildren is returned when an event is already at its
	// concurrent-job cap.
	ErrMaxChildren = errors.New("event has reached max children")
)

// Config controls the job execution engine.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration // applied when a spec carries no timeout

	// Groups maps group targets to their member hostnames. A target with no
	// group entry is treated as a single host.
	Groups map[string][]string
}

// Runner executes one job's payload. The context is canceled on abort,
// timeout, and engine shutdown.
type Runner interface {
	Run(ctx context.Context, spec job.Spec) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec job.Spec) error

func (f RunnerFunc) Run(ctx context.Context, spec job.Spec) error { return f(ctx, spec) }

// queuedJob is one unit of work: the job record plus its launch spec, with
// the per-job context already wired so aborts reach jobs still in queue.
type queuedJob struct {
	ctx     context.Context
	job     job.Job
	spec    job.Spec
	timeout time.Duration
}

// running is the engine's bookkeeping for one live job.
type running struct {
	job    job.Job
	cancel context.CancelFunc
	reason string // abort reason, set before cancel
}
