package plm

import (
	"context"
	"sync"
	"time"
)

// CommandOpts carries the optional arguments of a device capability call.
// Nil fields are omitted from the underlying invocation.
type CommandOpts struct {
	// Level is the target on-level, already rescaled to 0-255.
	Level *int

	// Duration is the ramp duration in seconds.
	Duration *float64
}

// Device is a live, addressable reference to a device behind the gateway.
// It is valid only while the gateway connection persists.
//
// Everything beyond the address is optional: capability and metadata
// surfaces are separate interfaces probed via type assertion.
type Device interface {
	// Address returns the raw device address (e.g. "1A.2B.3C").
	// Callers are expected to normalize it before using it as a key.
	Address() string
}

// Switch is the plain on/off capability.
type Switch interface {
	TurnOn(ctx context.Context, opts CommandOpts) error
	TurnOff(ctx context.Context, opts CommandOpts) error
}

// FastSwitch is the fast-on/fast-off capability (no ramp).
type FastSwitch interface {
	FastOn(ctx context.Context, opts CommandOpts) error
	FastOff(ctx context.Context, opts CommandOpts) error
}

// StatusQuerier requests a state refresh from the physical device.
// The refreshed values arrive asynchronously through state groups.
type StatusQuerier interface {
	StatusRequest(ctx context.Context) error
}

// Invoker executes a capability by name. It is the fallback for command
// names that do not map to one of the typed capability interfaces.
type Invoker interface {
	Invoke(ctx context.Context, name string, opts CommandOpts) error
}

// Named exposes a human-readable device name.
type Named interface {
	Name() string
}

// Categorized exposes the Insteon device category pair.
type Categorized interface {
	Category() (int, bool)
	Subcategory() (int, bool)
}

// ProductInfo exposes product identification strings.
// Empty strings mean the information is not available.
type ProductInfo interface {
	ProductKey() string
	Firmware() string
}

// LastSeen reports the last time the device was heard from.
// A zero time means never.
type LastSeen interface {
	LastSeen() time.Time
}

// Diagnostic exposes small free-form metadata for troubleshooting.
type Diagnostic interface {
	Raw() map[string]string
}

// CapabilityLister lets a device declare capability labels that cannot be
// derived from its interface set (battery, scene_controller, keypad).
type CapabilityLister interface {
	Capabilities() []string
}

// DeviceEvent is a discrete notification from a device (button press,
// fast-on, heartbeat).
type DeviceEvent struct {
	Name    string
	Address string
	Group   int
	Button  string
}

// GroupValue is a state-channel change notification.
type GroupValue struct {
	Name    string
	Address string
	Group   int
	Value   any
}

// Subscription is a handle to an active callback registration.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// EventSource is a subscribable per-device event stream.
type EventSource interface {
	Name() string
	Group() int
	Subscribe(fn func(DeviceEvent)) (Subscription, error)
}

// StateGroup is a subscribable state channel with a current value.
type StateGroup interface {
	Name() string
	Group() int
	Value() any
	Subscribe(fn func(GroupValue)) (Subscription, error)
}

// EventEmitter is implemented by devices that expose event streams.
type EventEmitter interface {
	EventSources() []EventSource
}

// StateHolder is implemented by devices that expose state channels.
type StateHolder interface {
	StateGroups() []StateGroup
}

// GatewayAction identifies a gateway-level device collection change.
type GatewayAction int

// Gateway-level actions.
const (
	DeviceAdded GatewayAction = iota + 1
	DeviceRemoved
)

// GatewayEvent notifies of a device joining or leaving the gateway's
// device collection.
type GatewayEvent struct {
	Action  GatewayAction
	Address string
}

// Closer is a sub-handle that supports bounded teardown.
type Closer interface {
	Close(ctx context.Context) error
}

// Gateway is a live connection to the powerline modem.
//
// Thread Safety: implementations must be safe for concurrent use; device
// and gateway callbacks may be invoked from driver-internal goroutines.
type Gateway interface {
	// Devices returns the current device collection, excluding the modem
	// itself.
	Devices() []Device

	// Find locates a device by address (any separator/case accepted).
	// Returns nil if the gateway does not know the address.
	Find(address string) Device

	// Load (re)loads the gateway's device list. When refresh is true the
	// gateway also re-identifies devices and reloads link databases.
	Load(ctx context.Context, refresh bool) error

	// Subscribe registers a callback for device added/removed events.
	Subscribe(fn func(GatewayEvent)) (Subscription, error)

	// Modem returns the modem sub-handle for teardown, or nil.
	Modem() Closer

	// Close tears down the connection. Best-effort; bounded by ctx.
	Close(ctx context.Context) error
}

// ConnectFunc opens a gateway connection on the given serial port.
type ConnectFunc func(ctx context.Context, port string) (Gateway, error)

var (
	driverMu sync.RWMutex
	driver   ConnectFunc
)

// RegisterDriver installs the gateway driver used by Connect.
// Typically called from an init function in the driver package, or from
// test/mock wiring. The last registration wins.
func RegisterDriver(fn ConnectFunc) {
	driverMu.Lock()
	driver = fn
	driverMu.Unlock()
}

// Connect opens a gateway connection using the registered driver.
// Returns ErrNoDriver if no driver has been registered, which callers
// treat the same as a failed connection attempt.
func Connect(ctx context.Context, port string) (Gateway, error) {
	driverMu.RLock()
	fn := driver
	driverMu.RUnlock()

	if fn == nil {
		return nil, ErrNoDriver
	}
	return fn(ctx, port)
}
