package engine

import (
	"context"
	"encoding/json"
	"errors"

	"evron/internal/eventbus"
	"evron/internal/job"
	"evron/pkg/logx"
)

const listCompleted = "logs/completed"

func eventLogKey(id string) string { return "logs/events/" + id }

func (s *Service) worker(stopCh <-chan struct{}, queue <-chan queuedJob) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case qj := <-queue:
			s.execOne(qj)
		}
	}
}

func (s *Service) execOne(qj queuedJob) {
	runCtx := qj.ctx
	var cancel context.CancelFunc
	if qj.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, qj.timeout)
	}

	var err error
	if s.runner != nil {
		err = s.runner.Run(runCtx, qj.spec)
	}
	if cancel != nil {
		cancel()
	}

	// Pull the abort reason (if any) while removing the job from the
	// active table.
	s.jobMu.Lock()
	var reason string
	if r, ok := s.active[qj.job.ID]; ok {
		reason = r.reason
		r.cancel()
		delete(s.active, qj.job.ID)
	}
	s.jobMu.Unlock()

	done := qj.job
	done.Finished = s.now().Unix()
	switch {
	case reason != "":
		done.Code = 1
		done.Detail = reason
	case errors.Is(err, context.DeadlineExceeded):
		done.Code = 1
		done.Detail = "job timed out"
	case err != nil:
		done.Code = 1
		done.Detail = err.Error()
	}

	if done.Code != 0 {
		s.log.Warn("job failed",
			logx.String("job", done.ID),
			logx.String("event", done.EventID),
			logx.String("detail", done.Detail))
	} else {
		s.log.Debug("job completed",
			logx.String("job", done.ID),
			logx.String("event", done.EventID))
	}

	s.recordCompletion(done)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicJobCompleted, Data: done})
	}
}

// recordCompletion writes the finished job onto the global completed list
// and the event's own log list. Both writes are best-effort; a storage
// hiccup must not take down the worker.
func (s *Service) recordCompletion(done job.Job) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(done)
	if err != nil {
		s.log.Error("encode completion record", logx.Err(err))
		return
	}
	ctx := context.Background()
	for _, key := range []string{listCompleted, eventLogKey(done.EventID)} {
		if err := s.store.ListUnshift(ctx, key, raw); err != nil {
			s.log.Warn("write completion record",
				logx.String("list", key), logx.Err(err))
		}
	}
}
