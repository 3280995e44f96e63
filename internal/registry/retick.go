package registry

import (
	"evron/internal/event"
	"evron/pkg/logx"
)

// maybeRetick asks the scheduler for an immediate re-evaluation after a
// catch-up event is re-enabled, so minutes missed while it was disabled run
// now instead of waiting for the next tick.
//
// Suppressed when the startup grace timer is still pending, when a tick is
// already in flight, and during the last second of the minute. At second 59
// the natural tick is imminent and would double-fire with the forced one.
func (s *Service) maybeRetick(merged *event.Event, patch *event.Patch) {
	if patch.Enabled == nil || !*patch.Enabled {
		return
	}
	if !merged.CatchUp.Bool() {
		return
	}
	if s.control == nil || s.control.GracePending() || s.control.IsTicking() {
		return
	}
	if s.now().Second() == 59 {
		return
	}

	s.log.Info("forcing schedule re-evaluation",
		logx.String("event", merged.ID))
	s.control.ForceReevaluateNow()
}
