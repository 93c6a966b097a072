package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/homebrain/insteon-core/internal/device"
	"github.com/homebrain/insteon-core/internal/events"
	"github.com/homebrain/insteon-core/internal/plm"
)

// Supervisor constants.
const (
	// teardownTimeout bounds the best-effort close of the gateway and
	// modem sub-handles during disconnect and shutdown.
	teardownTimeout = 5 * time.Second

	// notificationQueueSize buffers notifications handed off from
	// driver-internal goroutines before the routing loop consumes them.
	notificationQueueSize = 256
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge.
type Options struct {
	// SerialPort is the PLM device path handed to the gateway driver.
	SerialPort string

	// ReconnectInitial is the first backoff delay after a failed
	// connection attempt; it doubles per consecutive failure up to
	// ReconnectMax and resets on success.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// DiscoveryRefreshDefault is used when RunDiscovery is called with
	// a nil refresh flag.
	DiscoveryRefreshDefault bool

	// AllowMock permits mock-mode operation (disconnected discovery and
	// mock fallback).
	AllowMock bool

	// MockFallback switches to the in-process mock gateway when a
	// connection attempt fails, instead of entering backoff.
	MockFallback bool

	// ForceMock skips the real driver entirely and connects the mock
	// gateway immediately.
	ForceMock bool

	// MockCycle is the mock devices' on/off cycle interval.
	MockCycle time.Duration

	// Connect overrides the gateway connector. Defaults to plm.Connect.
	Connect plm.ConnectFunc

	Registry *device.Registry
	Pipeline *events.Pipeline
	Logger   Logger
}

// Bridge supervises the gateway connection and dispatches commands.
type Bridge struct {
	opts     Options
	log      Logger
	registry *device.Registry
	pipeline *events.Pipeline
	connect  plm.ConnectFunc

	// mu guards the connection fields and status counters.
	mu          sync.Mutex
	gateway     plm.Gateway
	gatewaySub  plm.Subscription
	mock        *plm.MockGateway
	state       State
	mockMode    bool
	isConnected bool
	connectedCh chan struct{}
	attempts    int
	successes   int
	lastErr     string
	started     bool
	stopped     bool

	notifications chan notification
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// notification is the hand-off record between driver callback contexts
// and the bridge's routing goroutine. Callbacks never mutate registry or
// cache state directly.
type notification struct {
	kind    notificationKind
	event   device.EventNotice
	state   device.StateNotice
	address string
}

type notificationKind int

const (
	noticeDeviceEvent notificationKind = iota
	noticeDeviceState
	noticeDeviceAdded
	noticeDeviceRemoved
)

// New creates a bridge. Registry, Pipeline, and Logger are required.
func New(opts Options) *Bridge {
	connect := opts.Connect
	if connect == nil {
		connect = plm.Connect
	}

	b := &Bridge{
		opts:          opts,
		log:           opts.Logger,
		registry:      opts.Registry,
		pipeline:      opts.Pipeline,
		connect:       connect,
		state:         StateIdle,
		connectedCh:   make(chan struct{}),
		notifications: make(chan notification, notificationQueueSize),
	}
	b.registry.SetSink(b)
	return b
}

// Start spawns the supervisor loop and the notification routing loop,
// and starts the event pipeline's dispatch loop. Idempotent: a second
// call while running is a no-op.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.started = true
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	b.pipeline.Start()

	b.wg.Add(2)
	go b.supervise(ctx)
	go b.routeNotifications(ctx)

	b.log.Info("bridge started", "port", b.opts.SerialPort)
}

// Stop signals termination, waits for the supervisor and routing loops,
// and tears down the connection with bounded-wait, best-effort
// semantics. Safe to call multiple times; the bridge cannot be
// restarted afterwards.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	// The supervisor tears down after each iteration, but a bridge
	// stopped before Start or cancelled mid-connect may still hold a
	// gateway here.
	b.teardown()
	b.pipeline.Stop()
	b.setState(StateStopped)

	b.log.Info("bridge stopped")
}

// WaitUntilConnected blocks until the connected flag is set or the
// timeout elapses. Returns false on timeout, never an error.
func (b *Bridge) WaitUntilConnected(timeout time.Duration) bool {
	b.mu.Lock()
	if b.isConnected {
		b.mu.Unlock()
		return true
	}
	ch := b.connectedCh
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// supervise is the reconnect loop. Each iteration attempts a connection;
// success blocks until stop, failure sleeps for the current backoff (or
// activates mock fallback). The connection is torn down after every
// iteration.
func (b *Bridge) supervise(ctx context.Context) {
	defer b.wg.Done()

	base := b.opts.ReconnectInitial
	if base <= 0 {
		base = time.Second
	}
	maxBackoff := b.opts.ReconnectMax
	if maxBackoff < base {
		maxBackoff = base
	}
	backoff := base

	for ctx.Err() == nil {
		b.setState(StateConnecting)
		b.mu.Lock()
		b.attempts++
		attempt := b.attempts
		b.mu.Unlock()

		var sleep time.Duration

		gw, mock, err := b.connectGateway(ctx, attempt)
		if err != nil {
			b.recordFailure(err)
			sleep = backoff
		} else {
			b.onConnected(gw, mock)
			backoff = base
			sleep = 0
			<-ctx.Done()
		}

		b.teardown()
		if ctx.Err() != nil {
			return
		}

		if sleep > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			backoff = nextBackoff(sleep, base, maxBackoff)
		} else {
			backoff = base
		}
	}
}

// nextBackoff doubles the previous sleep, clamped to [base, max].
func nextBackoff(prev, base, maxBackoff time.Duration) time.Duration {
	next := prev * 2
	if next < base {
		next = base
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// connectGateway establishes a gateway connection, honouring the mock
// flags. Mock fallback activation counts as a success (no backoff).
func (b *Bridge) connectGateway(ctx context.Context, attempt int) (plm.Gateway, bool, error) {
	if b.opts.ForceMock && b.opts.AllowMock {
		b.log.Info("mock mode forced, starting mock gateway")
		return plm.NewMockGateway(b.opts.MockCycle), true, nil
	}

	b.log.Info("connecting to PLM", "port", b.opts.SerialPort, "attempt", attempt)
	gw, err := b.connect(ctx, b.opts.SerialPort)
	if err == nil {
		return gw, false, nil
	}

	if b.opts.AllowMock && b.opts.MockFallback {
		b.log.Warn("PLM connect failed, falling back to mock gateway", "error", err)
		return plm.NewMockGateway(b.opts.MockCycle), true, nil
	}
	return nil, false, err
}

// recordFailure updates status and publishes a disconnected
// bridge_status event carrying the error.
func (b *Bridge) recordFailure(err error) {
	msg := err.Error()

	b.mu.Lock()
	b.lastErr = msg
	b.mu.Unlock()
	b.setState(StateDisconnected)

	b.log.Warn("PLM connect failed", "error", msg)
	b.pipeline.Publish(events.Event{
		Type:      events.TypeBridgeStatus,
		Connected: events.Bool(false),
		Port:      b.opts.SerialPort,
		Error:     msg,
	})
}

// onConnected records the new gateway, subscribes to gateway-level
// notifications, publishes the connected status, and primes the
// registry with every discovered device.
func (b *Bridge) onConnected(gw plm.Gateway, mock bool) {
	b.mu.Lock()
	b.gateway = gw
	b.mockMode = mock
	b.successes++
	b.lastErr = ""
	if mock {
		b.mock, _ = gw.(*plm.MockGateway) //nolint:errcheck // mock connector always returns *MockGateway
		b.state = StateMockConnected
	} else {
		b.mock = nil
		b.state = StateConnected
	}
	if !b.isConnected {
		b.isConnected = true
		close(b.connectedCh)
	}
	mockGw := b.mock
	b.mu.Unlock()

	sub, err := gw.Subscribe(b.gatewayCallback)
	if err != nil {
		b.log.Warn("gateway subscription failed", "error", err)
	} else {
		b.mu.Lock()
		b.gatewaySub = sub
		b.mu.Unlock()
	}

	b.pipeline.Publish(events.Event{
		Type:      events.TypeBridgeStatus,
		Connected: events.Bool(true),
		Port:      b.opts.SerialPort,
	})

	snapshots := b.registry.RegisterAll(gw)
	if len(snapshots) > 0 {
		b.pipeline.Publish(events.Event{
			Type:    events.TypeDeviceSnapshot,
			Count:   len(snapshots),
			Devices: snapshots,
		})
	}

	if mockGw != nil {
		mockGw.Start()
	}

	b.log.Info("connected to PLM", "devices", len(snapshots), "mock", mock)
}

// teardown clears all per-connection state and closes the gateway (and
// modem sub-handle) with a bounded wait. Close failures are logged,
// never fatal.
func (b *Bridge) teardown() {
	b.mu.Lock()
	gw := b.gateway
	sub := b.gatewaySub
	wasConnected := b.isConnected
	b.gateway = nil
	b.gatewaySub = nil
	b.mock = nil
	b.mockMode = false
	if b.isConnected {
		b.isConnected = false
		b.connectedCh = make(chan struct{})
	}
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	b.registry.ClearConnectionState()

	if gw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := gw.Close(ctx); err != nil {
			b.log.Warn("gateway close failed", "error", err)
		}
		if modem := gw.Modem(); modem != nil {
			if err := modem.Close(ctx); err != nil {
				b.log.Warn("modem close failed", "error", err)
			}
		}
	}

	if wasConnected {
		b.setState(StateDisconnected)
		b.pipeline.Publish(events.Event{
			Type:      events.TypeBridgeStatus,
			Connected: events.Bool(false),
			Port:      b.opts.SerialPort,
		})
	}
}

// setState updates the lifecycle state unless already stopped.
func (b *Bridge) setState(s State) {
	b.mu.Lock()
	if b.state != StateStopped {
		b.state = s
	}
	b.mu.Unlock()
}

// Gateway returns the active gateway handle, or nil when disconnected.
func (b *Bridge) Gateway() plm.Gateway {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gateway
}

// gatewayCallback handles device added/removed notifications. It runs
// on a driver-internal goroutine and only hands off.
func (b *Bridge) gatewayCallback(ev plm.GatewayEvent) {
	var kind notificationKind
	switch ev.Action {
	case plm.DeviceAdded:
		kind = noticeDeviceAdded
	case plm.DeviceRemoved:
		kind = noticeDeviceRemoved
	default:
		return
	}
	b.enqueue(notification{kind: kind, address: device.NormalizeID(ev.Address)})
}

// DeviceEvent implements device.NotificationSink.
func (b *Bridge) DeviceEvent(n device.EventNotice) {
	b.enqueue(notification{kind: noticeDeviceEvent, event: n})
}

// DeviceState implements device.NotificationSink.
func (b *Bridge) DeviceState(n device.StateNotice) {
	b.enqueue(notification{kind: noticeDeviceState, state: n})
}

// enqueue hands a notification to the routing loop without blocking the
// caller. Overflow drops the notification; the next snapshot refresh
// reconciles the cache.
func (b *Bridge) enqueue(n notification) {
	select {
	case b.notifications <- n:
	default:
		b.log.Warn("notification queue full, dropping", "kind", int(n.kind))
	}
}

// routeNotifications is the single consumer of the hand-off channel.
// All registry and cache mutation triggered by callbacks happens here.
func (b *Bridge) routeNotifications(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.notifications:
			switch n.kind {
			case noticeDeviceEvent:
				b.handleDeviceEvent(n.event)
			case noticeDeviceState:
				b.handleDeviceState(n.state)
			case noticeDeviceAdded:
				b.handleDeviceAdded(n.address)
			case noticeDeviceRemoved:
				b.handleDeviceRemoved(n.address)
			}
		}
	}
}

// handleDeviceEvent re-snapshots the device and publishes device_event.
func (b *Bridge) handleDeviceEvent(n device.EventNotice) {
	ev := events.Event{
		Type:     events.TypeDeviceEvent,
		DeviceID: n.DeviceID,
		Event:    n.Event,
		Group:    events.Int(n.Group),
		Button:   n.Button,
	}
	if dev, ok := b.registry.Find(n.DeviceID, b.Gateway()); ok {
		snap := b.registry.UpdateCached(dev, false)
		ev.Device = &snap
	}
	b.pipeline.Publish(ev)
}

// handleDeviceState re-snapshots the device and publishes device_state.
func (b *Bridge) handleDeviceState(n device.StateNotice) {
	ev := events.Event{
		Type:     events.TypeDeviceState,
		DeviceID: n.DeviceID,
		Name:     n.Name,
		Group:    events.Int(n.Group),
		Value:    n.Value,
	}
	if dev, ok := b.registry.Find(n.DeviceID, b.Gateway()); ok {
		snap := b.registry.UpdateCached(dev, false)
		ev.Device = &snap
	}
	b.pipeline.Publish(ev)
}

// handleDeviceAdded registers a newly announced device and publishes
// device_added.
func (b *Bridge) handleDeviceAdded(id string) {
	gw := b.Gateway()
	if gw == nil {
		return
	}
	dev := gw.Find(id)
	if dev == nil {
		return
	}
	snap := b.registry.Register(dev, true)
	b.pipeline.Publish(events.Event{
		Type:   events.TypeDeviceAdded,
		Device: &snap,
	})
}

// handleDeviceRemoved unregisters a departed device and publishes
// device_removed.
func (b *Bridge) handleDeviceRemoved(id string) {
	b.registry.Unregister(id, true)
	b.pipeline.Publish(events.Event{
		Type:     events.TypeDeviceRemoved,
		DeviceID: id,
	})
}

// DiscoveryResult is the outcome of RunDiscovery.
type DiscoveryResult struct {
	Devices []device.Snapshot `json:"devices"`
	Mode    string            `json:"mode"`
	Count   int               `json:"count"`
}

// RunDiscovery re-registers the gateway's device set. With a nil
// refresh flag the configured default applies. When disconnected it
// returns the cached devices tagged mock-mode, or ErrNotConnected if
// mock mode is disallowed.
func (b *Bridge) RunDiscovery(ctx context.Context, refresh *bool) (DiscoveryResult, error) {
	doRefresh := b.opts.DiscoveryRefreshDefault
	if refresh != nil {
		doRefresh = *refresh
	}

	b.mu.Lock()
	gw := b.gateway
	mock := b.mockMode
	b.mu.Unlock()

	if gw == nil {
		if !b.opts.AllowMock {
			return DiscoveryResult{}, ErrNotConnected
		}
		b.log.Info("discovery requested while disconnected, returning cached devices")
		devices := b.registry.ListCached()
		return DiscoveryResult{Devices: devices, Mode: "mock", Count: len(devices)}, nil
	}

	snapshots, err := b.registry.RunDiscovery(ctx, gw, doRefresh)
	if err != nil {
		b.log.Error("discovery failed", "error", err)
		return DiscoveryResult{}, err
	}

	mode := "live"
	if mock {
		mode = "mock"
	}

	b.pipeline.Publish(events.Event{
		Type:        events.TypeDiscoveryComplete,
		DeviceCount: len(snapshots),
		Devices:     snapshots,
		Mode:        mode,
	})
	return DiscoveryResult{Devices: snapshots, Mode: mode, Count: len(snapshots)}, nil
}

// ListDevices re-snapshots every live handle while connected, falling
// back to the persisted cache when disconnected.
func (b *Bridge) ListDevices() []device.Snapshot {
	if gw := b.Gateway(); gw != nil {
		return b.registry.ListLive(gw)
	}
	return b.registry.ListCached()
}

// GetDevice returns the snapshot for a normalized id, live handles
// first, then the cache. Fails with device.ErrDeviceNotFound.
func (b *Bridge) GetDevice(id string) (device.Snapshot, error) {
	return b.registry.Get(id, b.Gateway())
}

// StatusSnapshot returns a copy of the current bridge status.
func (b *Bridge) StatusSnapshot() Status {
	b.mu.Lock()
	status := Status{
		Connected:          b.isConnected,
		State:              b.state.String(),
		Port:               b.opts.SerialPort,
		ConnectAttempts:    b.attempts,
		SuccessfulConnects: b.successes,
		LastError:          b.lastErr,
		MockMode:           b.mockMode,
	}
	b.mu.Unlock()

	status.DeviceCount = b.registry.Count()
	if last := b.registry.LastDiscovery(); !last.IsZero() {
		status.LastDiscovery = last.Format(time.RFC3339)
	}
	status.Subscribers = b.pipeline.SubscriberCount()
	return status
}
