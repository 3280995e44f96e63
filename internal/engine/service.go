// Package engine runs jobs launched from event definitions.
//
// It owns the active-job table: the registry reads snapshots from it to
// block deletes and to target disable-triggered aborts, and every finished
// job leaves a completion record on the "logs/completed" list and the
// event's own "logs/events/<id>" list.
package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"evron/internal/eventbus"
	"evron/internal/job"
	"evron/internal/state"
	"evron/internal/storage"
	"evron/pkg/logx"
	"evron/pkg/uid"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	bus    eventbus.Bus
	store  storage.Store
	state  *state.Scheduler
	runner Runner

	queue     chan queuedJob
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	jobMu  sync.Mutex
	active map[string]*running

	// Seams for tests.
	now   func() time.Time
	newID func(prefix string) string
}

func New(cfg Config, store storage.Store, st *state.Scheduler, bus eventbus.Bus, runner Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		store:  store,
		state:  st,
		runner: runner,
		active: map[string]*running{},
		now:    time.Now,
		newID:  uid.New,
	}
}

// Start spins up the worker pool. Idempotent; a second Start while running
// is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	qs := s.cfg.QueueSize
	if qs <= 0 {
		qs = 256
	}
	// Fresh queue per run so a stop/start toggle never executes stale items.
	s.queue = make(chan queuedJob, qs)

	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in engine worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(stopCh, queue)
		}()
	}

	s.log.Info("job engine started", logx.Int("workers", workers), logx.Int("queue_size", qs))
}

// Stop cancels all live jobs and waits for the workers to drain, or until
// ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	s.stopCh = nil
	s.runCtx = nil
	s.runCancel = nil
	s.queue = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("job engine stopped")
	case <-ctx.Done():
		s.log.Warn("job engine stop timed out; workers finishing in background")
	}
}

// Launch starts jobs from a spec and returns their records.
//
// A group target fans out to every member when the spec is multiplexed;
// otherwise one member is picked round-robin. Jobs are registered as active
// before this returns, so a caller snapshotting right after sees them.
func (s *Service) Launch(ctx context.Context, spec job.Spec) ([]job.Job, error) {
	s.mu.Lock()
	queue := s.queue
	runCtx := s.runCtx
	groups := s.cfg.Groups
	defTimeout := s.cfg.DefaultTimeout
	s.mu.Unlock()

	if queue == nil {
		return nil, ErrStopped
	}

	eventID := spec.EventID()
	members := groups[spec.Target()]
	if len(members) == 0 {
		members = []string{spec.Target()}
	}
	if len(members) > 1 && !spec.Multiplex() {
		members = []string{members[s.state.AdvanceRobin(eventID, len(members))]}
	}

	if max := spec.MaxChildren(); max > 0 {
		if s.countActive(eventID)+len(members) > max {
			return nil, ErrMaxChildren
		}
	}

	now := s.now()
	launched := make([]job.Job, 0, len(members))
	for _, member := range members {
		js := spec.Clone()
		js["hostname"] = member

		j := job.Job{
			ID:         s.newID("j"),
			EventID:    eventID,
			EventTitle: spec.Title(),
			Detached:   spec.Detached(),
			Source:     spec.Source(),
			Started:    now.Unix(),
		}

		timeout := defTimeout
		if t := spec.Timeout(); t > 0 {
			timeout = time.Duration(t) * time.Second
		}

		jobCtx, jobCancel := context.WithCancel(runCtx)
		s.jobMu.Lock()
		s.active[j.ID] = &running{job: j, cancel: jobCancel}
		s.jobMu.Unlock()

		qj := queuedJob{ctx: jobCtx, job: j, spec: js, timeout: timeout}
		select {
		case queue <- qj:
		default:
			s.jobMu.Lock()
			delete(s.active, j.ID)
			s.jobMu.Unlock()
			jobCancel()
			s.log.Warn("job queue full; launch refused",
				logx.String("event", eventID),
				logx.Int("queue_cap", cap(queue)))
			return launched, ErrQueueFull
		}

		s.log.Info("job launched",
			logx.String("job", j.ID),
			logx.String("event", eventID),
			logx.String("hostname", member),
			logx.String("source", j.Source))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TopicJobLaunched, Data: j})
		}
		launched = append(launched, j)
	}
	return launched, nil
}

// ActiveJobs returns a point-in-time copy of the live-job table.
func (s *Service) ActiveJobs(context.Context) map[string]job.Job {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	out := make(map[string]job.Job, len(s.active))
	for id, r := range s.active {
		out[id] = r.job
	}
	return out
}

// RequestAbort cancels one job's context. Advisory: the job dies when its
// runner honors the cancellation. Unknown ids are ignored.
func (s *Service) RequestAbort(jobID, reason string) {
	s.jobMu.Lock()
	r, ok := s.active[jobID]
	if ok {
		r.reason = reason
	}
	s.jobMu.Unlock()
	if !ok {
		return
	}
	s.log.Info("job abort requested", logx.String("job", jobID), logx.String("reason", reason))
	r.cancel()
}

func (s *Service) countActive(eventID string) int {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	n := 0
	for _, r := range s.active {
		if r.job.EventID == eventID {
			n++
		}
	}
	return n
}
