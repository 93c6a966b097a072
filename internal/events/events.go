// Package events implements the bridge's event fan-out pipeline: a
// bounded queue feeding a single dispatch loop that broadcasts every
// event to all attached subscribers.
//
// Producers never block: when the queue is full the new event is dropped
// and the drop is logged. Correctness of command and state handling must
// never depend on event delivery.
package events

import (
	"sync"

	"github.com/homebrain/insteon-core/internal/device"
)

// Event type discriminators.
const (
	TypeBridgeStatus      = "bridge_status"
	TypeDeviceSnapshot    = "device_snapshot"
	TypeDeviceAdded       = "device_added"
	TypeDeviceRemoved     = "device_removed"
	TypeDeviceEvent       = "device_event"
	TypeDeviceState       = "device_state"
	TypeDiscoveryComplete = "discovery_complete"
	TypeCommandAck        = "command_ack"
	TypeWSConnected       = "ws_connected"
)

// Event is a tagged record flowing through the pipeline. Only the fields
// relevant to the Type are populated; the rest are omitted from JSON.
type Event struct {
	Type string `json:"type"`

	// bridge_status
	Connected *bool  `json:"connected,omitempty"`
	Port      string `json:"port,omitempty"`
	Error     string `json:"error,omitempty"`
	Note      string `json:"note,omitempty"`

	// device-scoped events
	DeviceID string           `json:"device_id,omitempty"`
	Device   *device.Snapshot `json:"device,omitempty"`

	// device_snapshot / discovery_complete
	Devices     []device.Snapshot `json:"devices,omitempty"`
	Count       int               `json:"count,omitempty"`
	DeviceCount int               `json:"device_count,omitempty"`
	Mode        string            `json:"mode,omitempty"`

	// command_ack
	Command string `json:"command,omitempty"`
	Level   *int   `json:"level,omitempty"`
	Fast    *bool  `json:"fast,omitempty"`

	// device_event / device_state payload fields
	Event  string `json:"event,omitempty"`
	Group  *int   `json:"group,omitempty"`
	Button string `json:"button,omitempty"`
	Name   string `json:"name,omitempty"`
	Value  any    `json:"value,omitempty"`

	// ws_connected
	Status any `json:"status,omitempty"`
}

// Subscriber receives broadcast events. Send must not block
// indefinitely; a subscriber whose Send fails is detached after the
// current broadcast pass.
type Subscriber interface {
	Send(Event) error
}

// Logger is the minimal logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Pipeline owns the bounded event queue and the subscriber set.
//
// Thread Safety: all methods are safe for concurrent use. Broadcasting
// happens on the single dispatch goroutine started by Start.
type Pipeline struct {
	log   Logger
	queue chan Event

	// statusFn supplies the status snapshot carried by the synthetic
	// ws_connected event sent to newly attached subscribers.
	statusFn func() any

	mu   sync.Mutex
	subs map[Subscriber]struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a pipeline with the given queue capacity.
// statusFn may be nil; ws_connected events then carry no status.
func New(capacity int, statusFn func() any, log Logger) *Pipeline {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pipeline{
		log:      log,
		queue:    make(chan Event, capacity),
		statusFn: statusFn,
		subs:     make(map[Subscriber]struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the dispatch loop. Idempotent.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.dispatchLoop()
	})
}

// Stop terminates the dispatch loop and waits for it to exit.
// Events still queued are discarded.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

// Publish enqueues an event without blocking. If the queue is full the
// event is dropped and the drop is logged; no error reaches the caller.
func (p *Pipeline) Publish(ev Event) {
	select {
	case p.queue <- ev:
	default:
		if p.log != nil {
			p.log.Warn("event queue full, dropping event", "type", ev.Type)
		}
	}
}

// Attach adds a subscriber and immediately sends it a synthetic
// ws_connected event carrying the current status snapshot, so it never
// starts from an inconsistent view.
func (p *Pipeline) Attach(sub Subscriber) {
	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	hello := Event{Type: TypeWSConnected}
	if p.statusFn != nil {
		hello.Status = p.statusFn()
	}
	if err := sub.Send(hello); err != nil {
		p.Detach(sub)
	}
}

// Detach removes a subscriber. Unknown subscribers are ignored.
func (p *Pipeline) Detach(sub Subscriber) {
	p.mu.Lock()
	delete(p.subs, sub)
	p.mu.Unlock()
}

// SubscriberCount returns the number of attached subscribers.
func (p *Pipeline) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// dispatchLoop dequeues events one at a time and broadcasts each to all
// currently attached subscribers.
func (p *Pipeline) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.queue:
			p.broadcast(ev)
		}
	}
}

// broadcast delivers an event to every subscriber. Failures mid-pass do
// not prevent delivery to the remaining subscribers; failed subscribers
// are detached after the pass completes.
func (p *Pipeline) broadcast(ev Event) {
	p.mu.Lock()
	subs := make([]Subscriber, 0, len(p.subs))
	for sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	var stale []Subscriber
	for _, sub := range subs {
		if err := sub.Send(ev); err != nil {
			stale = append(stale, sub)
		}
	}

	for _, sub := range stale {
		p.Detach(sub)
		if p.log != nil {
			p.log.Debug("detached stale subscriber", "type", ev.Type)
		}
	}
}

// Bool is a convenience for the Event pointer fields.
func Bool(v bool) *bool { return &v }

// Int is a convenience for the Event pointer fields.
func Int(v int) *int { return &v }
