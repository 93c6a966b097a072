package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/homebrain/insteon-core/internal/plm"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventNotice is a normalized device event forwarded to the sink.
type EventNotice struct {
	DeviceID string
	Event    string
	Group    int
	Button   string
}

// StateNotice is a normalized state-channel change forwarded to the sink.
type StateNotice struct {
	DeviceID string
	Name     string
	Group    int
	Value    any
}

// NotificationSink receives normalized device notifications.
//
// Implementations must be safe to call from driver-internal goroutines
// and must hand off to their own scheduling context before touching
// shared state; the registry's wrapped callbacks only normalize the id
// and forward, they never mutate registry state themselves.
type NotificationSink interface {
	DeviceEvent(EventNotice)
	DeviceState(StateNotice)
}

// Registry owns the id→handle and id→snapshot maps for the lifetime of
// a gateway connection, together with the per-device subscriptions it
// creates. Snapshots outlive the connection via the JSON cache file.
type Registry struct {
	log  Logger
	sink NotificationSink

	// cacheMu guards the snapshot cache and the aggregate
	// device-count/last-discovery fields.
	cacheMu       sync.Mutex
	cache         map[string]Snapshot
	lastDiscovery time.Time

	// handleMu guards the live handle and subscription maps.
	handleMu sync.Mutex
	handles  map[string]plm.Device
	subs     map[string][]plm.Subscription

	// discoveryMu serializes discovery operations; concurrent callers
	// queue on it.
	discoveryMu sync.Mutex

	persist *cacheFile
}

// NewRegistry creates a registry persisting its cache at cachePath.
// An empty cachePath disables persistence.
func NewRegistry(cachePath string, log Logger) *Registry {
	if log == nil {
		log = noopLogger{}
	}
	r := &Registry{
		log:     log,
		cache:   make(map[string]Snapshot),
		handles: make(map[string]plm.Device),
		subs:    make(map[string][]plm.Subscription),
	}
	if cachePath != "" {
		r.persist = &cacheFile{path: cachePath, log: log}
	}
	return r
}

// SetSink installs the notification sink. Must be called before the
// first Register; typically done once at wiring time.
func (r *Registry) SetSink(sink NotificationSink) {
	r.sink = sink
}

// LoadCache reads the persisted snapshot cache from disk. Read failures
// are logged and leave the cache empty; they are never fatal.
func (r *Registry) LoadCache() {
	if r.persist == nil {
		return
	}
	loaded, err := r.persist.load()
	if err != nil {
		r.log.Warn("failed to load device cache", "path", r.persist.path, "error", err)
		return
	}
	if loaded == nil {
		return
	}

	r.cacheMu.Lock()
	r.cache = loaded
	count := len(loaded)
	r.cacheMu.Unlock()

	r.log.Info("loaded cached devices", "count", count, "path", r.persist.path)
}

// SaveCache persists the current snapshot cache. Write failures are
// logged and non-fatal; the in-memory cache remains authoritative.
func (r *Registry) SaveCache() {
	if r.persist == nil {
		return
	}

	r.cacheMu.Lock()
	copied := make(map[string]Snapshot, len(r.cache))
	for id, snap := range r.cache {
		copied[id] = snap
	}
	r.cacheMu.Unlock()

	if err := r.persist.save(copied); err != nil {
		r.log.Warn("failed to persist device cache", "path", r.persist.path, "error", err)
		return
	}
	r.log.Debug("persisted device cache", "count", len(copied))
}

// Register snapshots a live handle, stores it under the normalized id,
// and subscribes to every event source and state group the device
// exposes. Registration is idempotent and re-entrant: any previous
// subscriptions for the id are released first. Individual subscription
// failures are logged and skipped.
func (r *Registry) Register(dev plm.Device, persistCache bool) Snapshot {
	snap := r.UpdateCached(dev, persistCache)
	id := snap.ID
	if id == "" {
		return snap
	}

	// Release any previous subscriptions for this id without dropping
	// the cached snapshot.
	r.Unregister(id, false)

	var subs []plm.Subscription

	if emitter, ok := dev.(plm.EventEmitter); ok {
		for _, source := range emitter.EventSources() {
			sub, err := source.Subscribe(r.eventCallback(id, source.Name()))
			if err != nil {
				r.log.Debug("event subscription failed",
					"device", id, "event", source.Name(), "error", err)
				continue
			}
			subs = append(subs, sub)
		}
	}

	if holder, ok := dev.(plm.StateHolder); ok {
		for _, group := range holder.StateGroups() {
			sub, err := group.Subscribe(r.stateCallback(id, group.Name()))
			if err != nil {
				r.log.Debug("state subscription failed",
					"device", id, "group", group.Name(), "error", err)
				continue
			}
			subs = append(subs, sub)
		}
	}

	if len(subs) > 0 {
		r.handleMu.Lock()
		r.subs[id] = subs
		r.handleMu.Unlock()
	}

	return snap
}

// eventCallback wraps a device event into a normalized notice handed to
// the sink. The callback may run on a driver-internal goroutine; it must
// not touch registry state directly.
func (r *Registry) eventCallback(id, sourceName string) func(plm.DeviceEvent) {
	return func(ev plm.DeviceEvent) {
		if r.sink == nil {
			return
		}
		name := ev.Name
		if name == "" {
			name = sourceName
		}
		r.sink.DeviceEvent(EventNotice{
			DeviceID: NormalizeID(id),
			Event:    name,
			Group:    ev.Group,
			Button:   ev.Button,
		})
	}
}

// stateCallback wraps a state-group change into a normalized notice.
func (r *Registry) stateCallback(id, groupName string) func(plm.GroupValue) {
	return func(gv plm.GroupValue) {
		if r.sink == nil {
			return
		}
		name := gv.Name
		if name == "" {
			name = groupName
		}
		r.sink.DeviceState(StateNotice{
			DeviceID: NormalizeID(id),
			Name:     name,
			Group:    gv.Group,
			Value:    gv.Value,
		})
	}
}

// Unregister releases all subscriptions for id. With drop set it also
// removes the live handle and the cached snapshot and persists the
// cache.
func (r *Registry) Unregister(id string, drop bool) {
	id = NormalizeID(id)

	r.handleMu.Lock()
	subs := r.subs[id]
	delete(r.subs, id)
	if drop {
		delete(r.handles, id)
	}
	r.handleMu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	if !drop {
		return
	}

	r.cacheMu.Lock()
	_, existed := r.cache[id]
	delete(r.cache, id)
	r.cacheMu.Unlock()

	if existed {
		r.SaveCache()
	}
}

// UpdateCached recomputes the snapshot from a live handle and stores it
// under the normalized id, optionally persisting the cache. Called on
// every observed notification and after every command dispatch, so the
// cache never lags a live handle by more than one notification.
func (r *Registry) UpdateCached(dev plm.Device, persistCache bool) Snapshot {
	snap := SnapshotOf(dev)
	if snap.ID == "" {
		return snap
	}

	r.handleMu.Lock()
	r.handles[snap.ID] = dev
	r.handleMu.Unlock()

	r.cacheMu.Lock()
	r.cache[snap.ID] = snap
	r.cacheMu.Unlock()

	if persistCache {
		r.SaveCache()
	}
	return snap
}

// Handle returns the live handle for a normalized id, if present.
func (r *Registry) Handle(id string) (plm.Device, bool) {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	dev, ok := r.handles[NormalizeID(id)]
	return dev, ok
}

// ListLive re-snapshots every device the gateway currently exposes.
// Preferred over the cache while connected: it reflects devices the
// gateway learned about after the last discovery.
func (r *Registry) ListLive(gw plm.Gateway) []Snapshot {
	devices := gw.Devices()
	snapshots := make([]Snapshot, 0, len(devices))
	for _, dev := range devices {
		snapshots = append(snapshots, r.UpdateCached(dev, false))
	}
	return snapshots
}

// ListCached returns the persisted snapshot cache, sorted by id.
func (r *Registry) ListCached() []Snapshot {
	r.cacheMu.Lock()
	snapshots := make([]Snapshot, 0, len(r.cache))
	for _, snap := range r.cache {
		snapshots = append(snapshots, snap)
	}
	r.cacheMu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots
}

// Get looks a device up by normalized id: live handles first (freshest),
// then the gateway's own search, then the cache. Returns
// ErrDeviceNotFound if the id is absent from all three.
func (r *Registry) Get(id string, gw plm.Gateway) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrEmptyID
	}
	normalized := NormalizeID(id)

	if dev, ok := r.Handle(normalized); ok {
		return r.UpdateCached(dev, false), nil
	}
	if gw != nil {
		if dev := gw.Find(normalized); dev != nil {
			return r.UpdateCached(dev, false), nil
		}
	}

	r.cacheMu.Lock()
	snap, ok := r.cache[normalized]
	r.cacheMu.Unlock()
	if ok {
		return snap, nil
	}
	return Snapshot{}, ErrDeviceNotFound
}

// Find resolves a live handle by id, falling back to the gateway-level
// search by address. Used by the command dispatcher.
func (r *Registry) Find(id string, gw plm.Gateway) (plm.Device, bool) {
	normalized := NormalizeID(id)
	if dev, ok := r.Handle(normalized); ok {
		return dev, true
	}
	if gw != nil {
		if dev := gw.Find(normalized); dev != nil {
			return dev, true
		}
	}
	return nil, false
}

// RegisterAll registers every device the gateway exposes and persists
// the cache once at the end. Returns the resulting snapshots.
func (r *Registry) RegisterAll(gw plm.Gateway) []Snapshot {
	devices := gw.Devices()
	snapshots := make([]Snapshot, 0, len(devices))
	for _, dev := range devices {
		snapshots = append(snapshots, r.Register(dev, false))
	}

	r.cacheMu.Lock()
	r.lastDiscovery = time.Now().UTC()
	r.cacheMu.Unlock()

	if len(snapshots) > 0 {
		r.SaveCache()
	}
	return snapshots
}

// RunDiscovery asks the gateway to (re)load its device list — forcing
// re-identification and link-database reload when refresh is true —
// then re-registers every discovered device and persists the cache.
//
// Only one discovery runs at a time; concurrent callers queue.
func (r *Registry) RunDiscovery(ctx context.Context, gw plm.Gateway, refresh bool) ([]Snapshot, error) {
	r.discoveryMu.Lock()
	defer r.discoveryMu.Unlock()

	if err := gw.Load(ctx, refresh); err != nil {
		return nil, err
	}
	return r.RegisterAll(gw), nil
}

// ClearConnectionState releases every subscription and drops all live
// handles. Cached snapshots are kept: they serve disconnected listings.
func (r *Registry) ClearConnectionState() {
	r.handleMu.Lock()
	allSubs := make([]plm.Subscription, 0)
	for _, subs := range r.subs {
		allSubs = append(allSubs, subs...)
	}
	r.subs = make(map[string][]plm.Subscription)
	r.handles = make(map[string]plm.Device)
	r.handleMu.Unlock()

	for _, sub := range allSubs {
		sub.Unsubscribe()
	}
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return len(r.cache)
}

// LastDiscovery returns the time of the last completed discovery, or a
// zero time if none has run.
func (r *Registry) LastDiscovery() time.Time {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.lastDiscovery
}
