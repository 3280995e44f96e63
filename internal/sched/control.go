// Package sched exposes the narrow control surface of the external
// scheduler engine. The minute-tick evaluation itself lives outside this
// repo; evron only reads two flags and can request one out-of-band pass.
package sched

import "sync/atomic"

// Control is what the registry needs from the scheduler engine.
type Control interface {
	// GracePending reports whether the engine's startup grace timer is
	// still pending (ticks are queued behind it).
	GracePending() bool

	// IsTicking reports whether the engine is currently mid-tick.
	IsTicking() bool

	// ForceReevaluateNow requests one immediate re-evaluation of the
	// current minute. Advisory; never blocks.
	ForceReevaluateNow()
}

// Facade is the in-process Control implementation. The engine flips the
// flags around its own tick loop; the retick callback is installed at wiring
// time.
type Facade struct {
	grace   atomic.Bool
	ticking atomic.Bool
	retick  atomic.Value // stores func()
}

func NewFacade() *Facade { return &Facade{} }

func (f *Facade) SetGracePending(v bool) { f.grace.Store(v) }
func (f *Facade) SetTicking(v bool)      { f.ticking.Store(v) }

// OnRetick installs the callback invoked by ForceReevaluateNow.
func (f *Facade) OnRetick(fn func()) { f.retick.Store(fn) }

func (f *Facade) GracePending() bool { return f.grace.Load() }
func (f *Facade) IsTicking() bool    { return f.ticking.Load() }

func (f *Facade) ForceReevaluateNow() {
	if fn, ok := f.retick.Load().(func()); ok && fn != nil {
		// Detach from the caller's request flow; a retick is advisory and
		// must never block an acknowledged update.
		go fn()
	}
}
