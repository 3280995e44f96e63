package registry

import (
	"context"
	"fmt"

	"evron/internal/event"
	"evron/internal/identity"
	"evron/internal/job"
	"evron/pkg/logx"
)

// Run launches an event on demand, outside its schedule.
//
// The launch spec is a deep copy of the stored event with the caller's
// overrides folded in as a flat overwrite; the stored definition is never
// touched. The spec is stamped with a source label naming the caller, and
// the launcher may fan one call out to several jobs when the target is a
// multi-member group.
func (s *Service) Run(ctx context.Context, p identity.Principal, id string, overrides map[string]any) ([]string, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.launcher == nil {
		return nil, &event.LaunchError{Msg: "no launcher configured"}
	}

	m, err := e.ToMap()
	if err != nil {
		return nil, fmt.Errorf("copy event: %w", err)
	}
	spec := job.Spec(m)

	// Overrides may not reassign the event's identity.
	delete(overrides, "id")
	for k, v := range overrides {
		spec[k] = v
	}

	spec["source"] = p.RunSource()
	if p.Kind == identity.KindAPIKey {
		spec["api_key"] = p.Key
	} else {
		spec["username"] = p.Username
	}

	jobs, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, &event.LaunchError{Msg: err.Error()}
	}

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
		s.record(ctx, "job_run", p.Actor(), map[string]any{"job": j.ID, "event": id})
	}
	s.log.Info("event launched",
		logx.String("event", id),
		logx.Int("jobs", len(ids)),
		logx.String("source", p.RunSource()))

	return ids, nil
}
