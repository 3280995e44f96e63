package registry

import (
	"context"
	"fmt"

	"evron/internal/event"
	"evron/pkg/logx"
)

// maybeAbortJobs tears down an event's live jobs after a disabling update.
// It fires only when the update carried the abort_jobs directive AND the
// event ends up disabled; detached jobs are always left alone.
func (s *Service) maybeAbortJobs(ctx context.Context, merged *event.Event, patch *event.Patch) {
	if !patch.AbortJobs || merged.Enabled.Bool() {
		return
	}
	if s.jobs == nil || s.aborter == nil {
		return
	}

	reason := fmt.Sprintf("Event '%s' has been disabled.", merged.Title)
	for _, j := range s.jobs.ActiveJobs(ctx) {
		if j.EventID != merged.ID || j.Detached {
			continue
		}
		s.log.Info("aborting job for disabled event",
			logx.String("job", j.ID),
			logx.String("event", merged.ID))
		s.aborter.RequestAbort(j.ID, reason)
	}
}
