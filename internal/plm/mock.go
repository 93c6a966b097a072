package plm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockGateway is an in-process double for the real powerline modem.
// It carries a fixed set of synthetic devices and implements the full
// Gateway contract, so the bridge can run end-to-end without hardware.
//
// Once Start is called, each device alternates on/off at the configured
// cycle interval, purely to exercise the event pipeline.
//
// Thread Safety: all methods are safe for concurrent use.
type MockGateway struct {
	cycle time.Duration

	mu      sync.RWMutex
	devices []*MockDevice
	subs    map[int]func(GatewayEvent)
	nextSub int
	closed  bool

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewMockGateway creates a mock gateway with the standard synthetic
// device set: a dimmer, a relay switch, and a battery sensor.
// A cycle of zero disables the background on/off cycling.
func NewMockGateway(cycle time.Duration) *MockGateway {
	g := &MockGateway{
		cycle: cycle,
		subs:  make(map[int]func(GatewayEvent)),
		done:  make(chan struct{}),
	}

	g.devices = []*MockDevice{
		newMockDevice("1A.2B.3C", "Mock Dimmer", mockDimmer),
		newMockDevice("4D.5E.6F", "Mock Switch", mockRelay),
		newMockDevice("7A.8B.9C", "Mock Sensor", mockSensor),
	}
	return g
}

// Start launches the per-device cycle tasks. Idempotent.
func (g *MockGateway) Start() {
	g.startOnce.Do(func() {
		if g.cycle <= 0 {
			return
		}
		for _, dev := range g.devices {
			g.wg.Add(1)
			go g.cycleDevice(dev)
		}
	})
}

// cycleDevice alternates a device on and off until the gateway closes.
func (g *MockGateway) cycleDevice(dev *MockDevice) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cycle)
	defer ticker.Stop()

	on := false
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			on = !on
			if on {
				dev.TurnOn(context.Background(), CommandOpts{}) //nolint:errcheck // mock calls cannot fail
			} else {
				dev.TurnOff(context.Background(), CommandOpts{}) //nolint:errcheck // mock calls cannot fail
			}
		}
	}
}

// Devices returns the synthetic device set.
func (g *MockGateway) Devices() []Device {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Device, len(g.devices))
	for i, d := range g.devices {
		out[i] = d
	}
	return out
}

// Find locates a device by address, accepting any separator or case.
func (g *MockGateway) Find(address string) Device {
	want := flattenAddress(address)

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, d := range g.devices {
		if flattenAddress(d.Address()) == want {
			return d
		}
	}
	return nil
}

// Load is a no-op: the synthetic device set is fixed.
func (g *MockGateway) Load(_ context.Context, _ bool) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrClosed
	}
	return nil
}

// Subscribe registers a callback for device added/removed events.
func (g *MockGateway) Subscribe(fn func(GatewayEvent)) (Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}

	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn

	return &mockSubscription{unsub: func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}}, nil
}

// AddDevice injects a new synthetic device and notifies subscribers.
// Used by tests to exercise the device_added path.
func (g *MockGateway) AddDevice(dev *MockDevice) {
	g.mu.Lock()
	g.devices = append(g.devices, dev)
	subs := subscriberList(g.subs)
	g.mu.Unlock()

	for _, fn := range subs {
		fn(GatewayEvent{Action: DeviceAdded, Address: dev.Address()})
	}
}

// RemoveDevice drops a synthetic device and notifies subscribers.
func (g *MockGateway) RemoveDevice(address string) {
	want := flattenAddress(address)

	g.mu.Lock()
	kept := g.devices[:0]
	removed := false
	for _, d := range g.devices {
		if flattenAddress(d.Address()) == want {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	g.devices = kept
	subs := subscriberList(g.subs)
	g.mu.Unlock()

	if !removed {
		return
	}
	for _, fn := range subs {
		fn(GatewayEvent{Action: DeviceRemoved, Address: address})
	}
}

// Modem returns nil: the mock has no separate modem sub-handle.
func (g *MockGateway) Modem() Closer { return nil }

// Close stops the cycle tasks and marks the gateway closed.
// Waits for cycle goroutines up to the context deadline.
func (g *MockGateway) Close(ctx context.Context) error {
	g.closeOnce.Do(func() { close(g.done) })

	g.mu.Lock()
	g.closed = true
	g.subs = make(map[int]func(GatewayEvent))
	g.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func subscriberList(subs map[int]func(GatewayEvent)) []func(GatewayEvent) {
	out := make([]func(GatewayEvent), 0, len(subs))
	for _, fn := range subs {
		out = append(out, fn)
	}
	return out
}

// flattenAddress strips separators and lower-cases for comparison.
func flattenAddress(addr string) string {
	addr = strings.ReplaceAll(addr, ".", "")
	addr = strings.ReplaceAll(addr, ":", "")
	return strings.ToLower(addr)
}

// mockKind selects the capability profile of a synthetic device.
type mockKind int

const (
	mockDimmer mockKind = iota
	mockRelay
	mockSensor
)

// MockDevice is a synthetic device with real state channels and
// synchronous callback delivery, mirroring how driver callbacks behave.
type MockDevice struct {
	address string
	name    string
	kind    mockKind

	mu       sync.Mutex
	lastSeen time.Time
	groups   []*mockGroup
	events   []*mockEventSource
}

// Interface conformance for the full capability surface of a dimmer.
var (
	_ Device           = (*MockDevice)(nil)
	_ Switch           = (*MockDevice)(nil)
	_ FastSwitch       = (*MockDevice)(nil)
	_ StatusQuerier    = (*MockDevice)(nil)
	_ Invoker          = (*MockDevice)(nil)
	_ Named            = (*MockDevice)(nil)
	_ Categorized      = (*MockDevice)(nil)
	_ ProductInfo      = (*MockDevice)(nil)
	_ LastSeen         = (*MockDevice)(nil)
	_ Diagnostic       = (*MockDevice)(nil)
	_ CapabilityLister = (*MockDevice)(nil)
	_ EventEmitter     = (*MockDevice)(nil)
	_ StateHolder      = (*MockDevice)(nil)
)

func newMockDevice(address, name string, kind mockKind) *MockDevice {
	d := &MockDevice{
		address: address,
		name:    name,
		kind:    kind,
	}

	switch kind {
	case mockDimmer:
		d.groups = []*mockGroup{
			newMockGroup(d, "on_off_switch", 1, false),
			newMockGroup(d, "level", 1, 0),
		}
	case mockRelay:
		d.groups = []*mockGroup{
			newMockGroup(d, "on_off_switch", 1, false),
		}
	case mockSensor:
		d.groups = []*mockGroup{
			newMockGroup(d, "on_off_sensor", 1, false),
			newMockGroup(d, "battery", 2, 100),
		}
	}

	d.events = []*mockEventSource{
		newMockEventSource(d, "on", 1),
		newMockEventSource(d, "off", 1),
	}
	return d
}

// NewMockDevice creates a standalone synthetic dimmer for tests.
func NewMockDevice(address, name string) *MockDevice {
	return newMockDevice(address, name, mockDimmer)
}

// Address returns the raw (separator-bearing) address.
func (d *MockDevice) Address() string { return d.address }

// Name returns the configured device name.
func (d *MockDevice) Name() string { return d.name }

// Category reports a synthetic Insteon category.
func (d *MockDevice) Category() (int, bool) {
	switch d.kind {
	case mockDimmer:
		return 1, true
	case mockRelay:
		return 2, true
	default:
		return 16, true
	}
}

// Subcategory reports a synthetic subcategory.
func (d *MockDevice) Subcategory() (int, bool) { return 0, true }

// ProductKey returns a synthetic product key.
func (d *MockDevice) ProductKey() string { return "mock-0001" }

// Firmware returns a synthetic firmware revision.
func (d *MockDevice) Firmware() string { return "0.0-mock" }

// LastSeen reports the last state mutation time.
func (d *MockDevice) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// Raw returns diagnostic metadata.
func (d *MockDevice) Raw() map[string]string {
	return map[string]string{"model": "mock", "kind": fmt.Sprintf("%d", d.kind)}
}

// Capabilities declares labels not derivable from the interface set.
func (d *MockDevice) Capabilities() []string {
	switch d.kind {
	case mockDimmer:
		return []string{"dimmer"}
	case mockSensor:
		return []string{"battery"}
	default:
		return nil
	}
}

// EventSources returns the device's subscribable event streams.
func (d *MockDevice) EventSources() []EventSource {
	out := make([]EventSource, len(d.events))
	for i, e := range d.events {
		out[i] = e
	}
	return out
}

// StateGroups returns the device's state channels.
func (d *MockDevice) StateGroups() []StateGroup {
	out := make([]StateGroup, len(d.groups))
	for i, g := range d.groups {
		out[i] = g
	}
	return out
}

// TurnOn sets the device on. Dimmers honour opts.Level (0-255).
func (d *MockDevice) TurnOn(_ context.Context, opts CommandOpts) error {
	level := 255
	if opts.Level != nil {
		level = *opts.Level
	}
	d.applyOnOff(true, level)
	d.fireEvent("on")
	return nil
}

// TurnOff sets the device off.
func (d *MockDevice) TurnOff(_ context.Context, _ CommandOpts) error {
	d.applyOnOff(false, 0)
	d.fireEvent("off")
	return nil
}

// FastOn is TurnOn without ramp.
func (d *MockDevice) FastOn(ctx context.Context, opts CommandOpts) error {
	return d.TurnOn(ctx, opts)
}

// FastOff is TurnOff without ramp.
func (d *MockDevice) FastOff(ctx context.Context, _ CommandOpts) error {
	return d.TurnOff(ctx, CommandOpts{})
}

// StatusRequest re-reports the current value of every state channel.
func (d *MockDevice) StatusRequest(_ context.Context) error {
	d.mu.Lock()
	d.lastSeen = time.Now().UTC()
	groups := append([]*mockGroup(nil), d.groups...)
	d.mu.Unlock()

	for _, g := range groups {
		g.notify()
	}
	return nil
}

// Invoke executes a capability by name. Only "beep" is supported beyond
// the typed capabilities; anything else reports ErrUnknownCapability.
func (d *MockDevice) Invoke(ctx context.Context, name string, opts CommandOpts) error {
	switch name {
	case "on", "turn_on":
		return d.TurnOn(ctx, opts)
	case "off", "turn_off":
		return d.TurnOff(ctx, opts)
	case "beep":
		d.fireEvent("beep")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
}

// applyOnOff updates state channels and notifies group subscribers
// synchronously, the way real driver callbacks fire.
func (d *MockDevice) applyOnOff(on bool, level int) {
	d.mu.Lock()
	d.lastSeen = time.Now().UTC()
	var changed []*mockGroup
	for _, g := range d.groups {
		switch g.name {
		case "on_off_switch", "on_off_sensor":
			g.setValue(on)
			changed = append(changed, g)
		case "level":
			g.setValue(level)
			changed = append(changed, g)
		}
	}
	d.mu.Unlock()

	for _, g := range changed {
		g.notify()
	}
}

func (d *MockDevice) fireEvent(name string) {
	d.mu.Lock()
	events := append([]*mockEventSource(nil), d.events...)
	d.mu.Unlock()

	for _, e := range events {
		if e.name == name {
			e.notify()
		}
	}
}

// mockGroup is a state channel with synchronous subscriber delivery.
type mockGroup struct {
	dev   *MockDevice
	name  string
	group int

	mu    sync.Mutex
	value any
	subs  map[int]func(GroupValue)
	next  int
}

func newMockGroup(dev *MockDevice, name string, group int, initial any) *mockGroup {
	return &mockGroup{
		dev:   dev,
		name:  name,
		group: group,
		value: initial,
		subs:  make(map[int]func(GroupValue)),
	}
}

func (g *mockGroup) Name() string { return g.name }
func (g *mockGroup) Group() int   { return g.group }

func (g *mockGroup) Value() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *mockGroup) setValue(v any) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *mockGroup) Subscribe(fn func(GroupValue)) (Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.next
	g.next++
	g.subs[id] = fn

	return &mockSubscription{unsub: func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}}, nil
}

func (g *mockGroup) notify() {
	g.mu.Lock()
	value := g.value
	subs := make([]func(GroupValue), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	for _, fn := range subs {
		fn(GroupValue{
			Name:    g.name,
			Address: g.dev.Address(),
			Group:   g.group,
			Value:   value,
		})
	}
}

// mockEventSource is a discrete event stream with synchronous delivery.
type mockEventSource struct {
	dev   *MockDevice
	name  string
	group int

	mu   sync.Mutex
	subs map[int]func(DeviceEvent)
	next int
}

func newMockEventSource(dev *MockDevice, name string, group int) *mockEventSource {
	return &mockEventSource{
		dev:   dev,
		name:  name,
		group: group,
		subs:  make(map[int]func(DeviceEvent)),
	}
}

func (e *mockEventSource) Name() string { return e.name }
func (e *mockEventSource) Group() int   { return e.group }

func (e *mockEventSource) Subscribe(fn func(DeviceEvent)) (Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	e.subs[id] = fn

	return &mockSubscription{unsub: func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}}, nil
}

func (e *mockEventSource) notify() {
	e.mu.Lock()
	subs := make([]func(DeviceEvent), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(DeviceEvent{
			Name:    e.name,
			Address: e.dev.Address(),
			Group:   e.group,
		})
	}
}

// mockSubscription wraps an unsubscribe closure with idempotency.
type mockSubscription struct {
	once  sync.Once
	unsub func()
}

func (s *mockSubscription) Unsubscribe() {
	s.once.Do(s.unsub)
}
