package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evron/internal/eventbus"
	"evron/pkg/logx"
)

type collectSink struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (c *collectSink) Send(_ context.Context, ev eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newRunning(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	svc := New(cfg, bus, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc, bus
}

func TestDeliversBusEventsToSinks(t *testing.T) {
	t.Parallel()
	svc, bus := newRunning(t, Config{Enabled: true, RatePerSec: 100})

	sink := &collectSink{}
	detach := svc.Attach(sink)
	defer detach()

	bus.Publish(eventbus.Event{Type: eventbus.TopicScheduleUpdated, Data: "ev1"})
	bus.Publish(eventbus.Event{Type: eventbus.TopicStateUpdated, Data: "ev1"})

	waitFor(t, func() bool { return sink.count() == 2 })
}

func TestDetachStopsDelivery(t *testing.T) {
	t.Parallel()
	svc, bus := newRunning(t, Config{Enabled: true, RatePerSec: 100})

	sink := &collectSink{}
	detach := svc.Attach(sink)

	bus.Publish(eventbus.Event{Type: eventbus.TopicActivity})
	waitFor(t, func() bool { return sink.count() == 1 })

	detach()
	bus.Publish(eventbus.Event{Type: eventbus.TopicActivity})

	// Give the pump a moment; the count must not move.
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Fatalf("events after detach = %d, want 1", got)
	}
}

func TestFailingSinkIsDetached(t *testing.T) {
	t.Parallel()
	svc, bus := newRunning(t, Config{Enabled: true, RatePerSec: 100})

	bad := &collectSink{err: errors.New("client gone")}
	good := &collectSink{}
	svc.Attach(bad)
	detach := svc.Attach(good)
	defer detach()

	bus.Publish(eventbus.Event{Type: eventbus.TopicActivity})
	waitFor(t, func() bool { return good.count() == 1 })

	// The failed sink must be gone; the healthy one keeps receiving.
	bus.Publish(eventbus.Event{Type: eventbus.TopicActivity})
	waitFor(t, func() bool { return good.count() == 2 })

	svc.sinkMu.Lock()
	n := len(svc.sinks)
	svc.sinkMu.Unlock()
	if n != 1 {
		t.Fatalf("sinks = %d, want failed one detached", n)
	}
}

func TestDisabledServiceDoesNotStart(t *testing.T) {
	t.Parallel()
	svc, bus := newRunning(t, Config{Enabled: false})

	sink := &collectSink{}
	defer svc.Attach(sink)()

	bus.Publish(eventbus.Event{Type: eventbus.TopicActivity})
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("disabled broadcast delivered events")
	}
}
