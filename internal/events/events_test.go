package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// testLogger records warn calls so queue-drop behaviour is observable.
type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Debug(string, ...any) {}

func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *testLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// collector is a subscriber that records every delivered event.
type collector struct {
	mu     sync.Mutex
	events []Event

	// failAfter makes Send fail once this many events were accepted.
	// Zero means never fail.
	failAfter int
}

func (c *collector) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && len(c.events) >= c.failAfter {
		return errors.New("collector full")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// waitFor polls until the predicate matches a received event or the
// deadline expires.
func (c *collector) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for event")
	return Event{}
}

func TestPipeline_PublishAndBroadcast(t *testing.T) {
	p := New(8, nil, &testLogger{})
	p.Start()
	defer p.Stop()

	sub := &collector{}
	p.Attach(sub)

	p.Publish(Event{Type: TypeDeviceState, DeviceID: "1a2b3c", Name: "level", Value: 128})

	ev := sub.waitFor(t, func(ev Event) bool { return ev.Type == TypeDeviceState })
	if ev.DeviceID != "1a2b3c" {
		t.Errorf("device_id = %q, want 1a2b3c", ev.DeviceID)
	}
	if ev.Value != 128 {
		t.Errorf("value = %v, want 128", ev.Value)
	}
}

func TestPipeline_AttachSendsStatusSnapshot(t *testing.T) {
	p := New(8, func() any { return "status-snapshot" }, &testLogger{})
	sub := &collector{}
	p.Attach(sub)

	got := sub.snapshot()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Type != TypeWSConnected {
		t.Errorf("type = %q, want %q", got[0].Type, TypeWSConnected)
	}
	if got[0].Status != "status-snapshot" {
		t.Errorf("status = %v, want status-snapshot", got[0].Status)
	}
}

func TestPipeline_AttachWithoutStatusFn(t *testing.T) {
	p := New(8, nil, &testLogger{})
	sub := &collector{}
	p.Attach(sub)

	got := sub.snapshot()
	if len(got) != 1 || got[0].Status != nil {
		t.Errorf("expected single ws_connected with nil status, got %+v", got)
	}
}

func TestPipeline_DetachesFailedSubscriber(t *testing.T) {
	p := New(8, nil, &testLogger{})
	p.Start()
	defer p.Stop()

	// Accepts the ws_connected hello, then fails on the next send.
	sub := &collector{failAfter: 1}
	p.Attach(sub)
	if got := p.SubscriberCount(); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	p.Publish(Event{Type: TypeDeviceEvent})

	deadline := time.Now().Add(2 * time.Second)
	for p.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed subscriber was not detached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// alwaysFails is a subscriber that rejects every event.
type alwaysFails struct{}

func (alwaysFails) Send(Event) error { return errors.New("refused") }

func TestPipeline_FailedHelloDetachesImmediately(t *testing.T) {
	p := New(8, nil, &testLogger{})
	p.Attach(alwaysFails{})
	if got := p.SubscriberCount(); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}

func TestPipeline_QueueOverflowDropsNewest(t *testing.T) {
	log := &testLogger{}
	p := New(2, nil, log)
	// Not started, so the queue fills and the third publish must drop
	// without blocking.
	p.Publish(Event{Type: TypeDeviceEvent})
	p.Publish(Event{Type: TypeDeviceEvent})

	done := make(chan struct{})
	go func() {
		p.Publish(Event{Type: TypeDeviceEvent})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	if got := log.warnCount(); got != 1 {
		t.Errorf("drop warnings = %d, want 1", got)
	}
}

func TestPipeline_BroadcastContinuesPastFailure(t *testing.T) {
	p := New(8, nil, &testLogger{})
	p.Start()
	defer p.Stop()

	failing := &collector{failAfter: 1}
	healthy := &collector{}
	p.Attach(failing)
	p.Attach(healthy)

	p.Publish(Event{Type: TypeCommandAck, DeviceID: "1a2b3c"})

	healthy.waitFor(t, func(ev Event) bool { return ev.Type == TypeCommandAck })
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	p := New(4, nil, &testLogger{})
	p.Start()
	p.Stop()
	p.Stop()
}
