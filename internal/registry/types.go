package registry

import (
	"context"
	"time"

	"evron/internal/audit"
	"evron/internal/eventbus"
	"evron/internal/job"
	"evron/internal/sched"
	"evron/internal/state"
	"evron/internal/storage"
	"evron/pkg/logx"
	"evron/pkg/uid"
)

// Storage list keys owned by the registry.
const (
	listSchedule  = "global/schedule"
	listCompleted = "logs/completed"
)

// eventLogKey is the per-event completed-job list.
func eventLogKey(id string) string { return "logs/events/" + id }

// logRetention is how long a deleted event's job log list stays readable
// before it expires.
const logRetention = 24 * time.Hour

// Default page sizes, matching what clients expect when they omit limits.
const (
	defaultPageLimit    = 50
	defaultHistoryLimit = 100
)

// ActiveJobs exposes the engine's live-job snapshot.
type ActiveJobs interface {
	ActiveJobs(ctx context.Context) map[string]job.Job
}

// Aborter requests termination of a single job. Requests are advisory and
// asynchronous; the engine decides when the job actually dies.
type Aborter interface {
	RequestAbort(jobID, reason string)
}

// Launcher starts jobs from a spec. A multi-member target may fan out to
// several jobs from one call.
type Launcher interface {
	Launch(ctx context.Context, spec job.Spec) ([]job.Job, error)
}

// Config carries the registry's tunables.
type Config struct {
	// DefaultTimezone is stamped onto events created without one.
	DefaultTimezone string

	// HistoryLimit caps per-event job log lists; 0 keeps everything.
	HistoryLimit int
}

// Service is the event registry. All methods are safe for concurrent use;
// serialization of find-then-write steps is delegated to the store.
type Service struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	state *state.Scheduler
	bus   eventbus.Bus
	audit *audit.Recorder

	jobs     ActiveJobs
	aborter  Aborter
	launcher Launcher
	control  sched.Control

	// Seams for tests.
	now   func() time.Time
	newID func(prefix string) string
}

func New(cfg Config, store storage.Store, st *state.Scheduler, bus eventbus.Bus, rec *audit.Recorder,
	jobs ActiveJobs, aborter Aborter, launcher Launcher, control sched.Control, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		store:    store,
		state:    st,
		bus:      bus,
		audit:    rec,
		jobs:     jobs,
		aborter:  aborter,
		launcher: launcher,
		control:  control,
		now:      time.Now,
		newID:    uid.New,
	}
}

func (s *Service) publish(topic, eventID string) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: eventID})
	}
}

func (s *Service) record(ctx context.Context, action, actor string, data map[string]any) {
	if s.audit != nil {
		s.audit.Record(ctx, action, actor, data)
	}
}
