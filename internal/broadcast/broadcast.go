// Package broadcast pushes bus events (schedule changes, scheduler state,
// activity, job lifecycle) to connected clients so their views stay live
// without polling.
package broadcast

import (
	"context"
	"runtime/debug"
	"sync"

	"golang.org/x/time/rate"

	"evron/internal/eventbus"
	"evron/pkg/logx"
)

type Config struct {
	Enabled    bool
	RatePerSec int
	QueueSize  int
}

// Sink is one connected client. Send must be safe for concurrent use and
// should return quickly; a failing sink is detached.
type Sink interface {
	Send(ctx context.Context, ev eventbus.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev eventbus.Event) error

func (f SinkFunc) Send(ctx context.Context, ev eventbus.Event) error { return f(ctx, ev) }

type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	limiter *rate.Limiter

	sinkMu sync.Mutex
	sinks  map[uint64]Sink
	seq    uint64

	stopCh   chan struct{}
	unsub    func()
	pumpDone chan struct{}
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		limiter: newLimiter(cfg.RatePerSec),
		sinks:   map[uint64]Sink{},
	}
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		rps = 20
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}

// Apply swaps config at runtime. Only the rate limit takes effect live;
// queue size applies on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = newLimiter(cfg.RatePerSec)
	s.mu.Unlock()
}

// Attach registers a client sink and returns its detach func.
func (s *Service) Attach(sink Sink) (detach func()) {
	s.sinkMu.Lock()
	s.seq++
	id := s.seq
	s.sinks[id] = sink
	s.sinkMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.sinkMu.Lock()
			delete(s.sinks, id)
			s.sinkMu.Unlock()
		})
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil || !s.cfg.Enabled {
		return
	}

	qs := s.cfg.QueueSize
	if qs <= 0 {
		qs = 128
	}
	ch, unsub := s.bus.Subscribe(qs)

	s.stopCh = make(chan struct{})
	s.unsub = unsub
	s.pumpDone = make(chan struct{})

	stopCh := s.stopCh
	done := s.pumpDone
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in broadcast pump",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.pump(ctx, stopCh, ch)
	}()

	s.log.Info("broadcast started", logx.Int("queue_size", qs))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	unsub := s.unsub
	done := s.pumpDone
	s.stopCh = nil
	s.unsub = nil
	s.pumpDone = nil
	s.mu.Unlock()

	close(stopCh)
	unsub()
	select {
	case <-done:
		s.log.Info("broadcast stopped")
	case <-ctx.Done():
	}
}

func (s *Service) pump(ctx context.Context, stopCh <-chan struct{}, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, ev eventbus.Event) {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return
	}

	s.sinkMu.Lock()
	type entry struct {
		id   uint64
		sink Sink
	}
	targets := make([]entry, 0, len(s.sinks))
	for id, sink := range s.sinks {
		targets = append(targets, entry{id, sink})
	}
	s.sinkMu.Unlock()

	for _, t := range targets {
		if err := t.sink.Send(ctx, ev); err != nil {
			// A dead client stays dead; detach it rather than retrying
			// every subsequent event.
			s.log.Debug("detaching failed sink", logx.Err(err))
			s.sinkMu.Lock()
			delete(s.sinks, t.id)
			s.sinkMu.Unlock()
		}
	}
}
