package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/homebrain/insteon-core/internal/plm"
)

// recordingSink captures normalized notifications for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []EventNotice
	states []StateNotice
}

func (s *recordingSink) DeviceEvent(n EventNotice) {
	s.mu.Lock()
	s.events = append(s.events, n)
	s.mu.Unlock()
}

func (s *recordingSink) DeviceState(n StateNotice) {
	s.mu.Lock()
	s.states = append(s.states, n)
	s.mu.Unlock()
}

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1A.2B.3C", "1a2b3c"},
		{"1a:2b:3c", "1a2b3c"},
		{"ABCDEF", "abcdef"},
		{"1a2b3c", "1a2b3c"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeID(tc.in); got != tc.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSnapshotOf(t *testing.T) {
	snap := SnapshotOf(plm.NewMockDevice("1A.2B.3C", "Lamp"))

	if snap.ID != "1a2b3c" {
		t.Errorf("id = %q, want 1a2b3c", snap.ID)
	}
	if snap.Address != "1a2b3c" {
		t.Errorf("address = %q, want 1a2b3c", snap.Address)
	}
	if snap.Name != "Lamp" {
		t.Errorf("name = %q, want Lamp", snap.Name)
	}

	want := map[string]bool{"dimmer": false, "switch": false, "fast_on": false, "status_query": false}
	for _, label := range snap.Capabilities {
		if _, ok := want[label]; ok {
			want[label] = true
		}
	}
	for label, seen := range want {
		if !seen {
			t.Errorf("capability %q missing from %v", label, snap.Capabilities)
		}
	}

	if _, ok := snap.State["on_off_switch"]; !ok {
		t.Errorf("state missing on_off_switch: %v", snap.State)
	}
	if _, ok := snap.State["level"]; !ok {
		t.Errorf("state missing level: %v", snap.State)
	}
}

func TestSnapshot_IsOn(t *testing.T) {
	cases := []struct {
		name  string
		state map[string]any
		want  bool
	}{
		{"level set", map[string]any{"level": 128}, true},
		{"level zero", map[string]any{"level": 0}, false},
		{"switch on", map[string]any{"on_off_switch": true}, true},
		{"switch off", map[string]any{"on_off_switch": false}, false},
		{"unrelated channel", map[string]any{"battery": 100}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := Snapshot{State: tc.state}
			if got := snap.IsOn(); got != tc.want {
				t.Errorf("IsOn() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "cache.json"), nil)

	dev := plm.NewMockDevice("1A.2B.3C", "Lamp")
	snap := r.Register(dev, false)
	if snap.ID != "1a2b3c" {
		t.Fatalf("registered id = %q, want 1a2b3c", snap.ID)
	}

	// Lookup accepts any address form.
	for _, id := range []string{"1a2b3c", "1A.2B.3C", "1A:2B:3C"} {
		got, err := r.Get(id, nil)
		if err != nil {
			t.Fatalf("Get(%q) error: %v", id, err)
		}
		if got.ID != "1a2b3c" {
			t.Errorf("Get(%q).ID = %q, want 1a2b3c", id, got.ID)
		}
	}

	if _, err := r.Get("00.00.00", nil); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := r.Get("", nil); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Get(\"\") error = %v, want ErrEmptyID", err)
	}
}

func TestRegistry_GetFallsBackToGateway(t *testing.T) {
	r := NewRegistry("", nil)
	gw := plm.NewMockGateway(0)

	got, err := r.Get("4D.5E.6F", gw)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "4d5e6f" {
		t.Errorf("id = %q, want 4d5e6f", got.ID)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "cache.json"), nil)
	r.Register(plm.NewMockDevice("1A.2B.3C", "Lamp"), false)

	r.Unregister("1A.2B.3C", true)

	if _, err := r.Get("1a2b3c", nil); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() after unregister = %v, want ErrDeviceNotFound", err)
	}
	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestRegistry_CacheRoundTrip(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "nested", "cache.json")

	r1 := NewRegistry(cachePath, nil)
	r1.Register(plm.NewMockDevice("1A.2B.3C", "Lamp"), true)
	r1.Register(plm.NewMockDevice("4D.5E.6F", "Fan"), true)

	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	// The atomic-write temp file must not linger.
	if _, err := os.Stat(cachePath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp cache file left behind")
	}

	r2 := NewRegistry(cachePath, nil)
	r2.LoadCache()

	cached := r2.ListCached()
	if len(cached) != 2 {
		t.Fatalf("cached devices = %d, want 2", len(cached))
	}
	// ListCached sorts by id.
	if cached[0].ID != "1a2b3c" || cached[1].ID != "4d5e6f" {
		t.Errorf("cached ids = [%s %s], want [1a2b3c 4d5e6f]", cached[0].ID, cached[1].ID)
	}
	if cached[0].Name != "Lamp" {
		t.Errorf("cached name = %q, want Lamp", cached[0].Name)
	}
}

func TestRegistry_LoadCacheMissingFile(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent.json"), nil)
	r.LoadCache()
	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestRegistry_LoadCacheCorruptFile(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(cachePath, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("writing corrupt cache: %v", err)
	}

	r := NewRegistry(cachePath, nil)
	r.LoadCache()
	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0 after corrupt cache", got)
	}
}

func TestRegistry_NotificationsReachSink(t *testing.T) {
	r := NewRegistry("", nil)
	sink := &recordingSink{}
	r.SetSink(sink)

	dev := plm.NewMockDevice("1A.2B.3C", "Lamp")
	r.Register(dev, false)

	level := 200
	if err := dev.TurnOn(context.Background(), plm.CommandOpts{Level: &level}); err != nil {
		t.Fatalf("TurnOn() error: %v", err)
	}

	// Mock delivery is synchronous, so the sink has everything already.
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.events) != 1 || sink.events[0].Event != "on" {
		t.Fatalf("events = %+v, want single on event", sink.events)
	}
	if sink.events[0].DeviceID != "1a2b3c" {
		t.Errorf("event device_id = %q, want 1a2b3c", sink.events[0].DeviceID)
	}

	byName := make(map[string]any)
	for _, st := range sink.states {
		if st.DeviceID != "1a2b3c" {
			t.Errorf("state device_id = %q, want 1a2b3c", st.DeviceID)
		}
		byName[st.Name] = st.Value
	}
	if byName["on_off_switch"] != true {
		t.Errorf("on_off_switch = %v, want true", byName["on_off_switch"])
	}
	if byName["level"] != 200 {
		t.Errorf("level = %v, want 200", byName["level"])
	}
}

func TestRegistry_ReregisterReleasesOldSubscriptions(t *testing.T) {
	r := NewRegistry("", nil)
	sink := &recordingSink{}
	r.SetSink(sink)

	dev := plm.NewMockDevice("1A.2B.3C", "Lamp")
	r.Register(dev, false)
	r.Register(dev, false)

	if err := dev.TurnOn(context.Background(), plm.CommandOpts{}); err != nil {
		t.Fatalf("TurnOn() error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Errorf("events = %d, want 1 (double registration must not double-deliver)", len(sink.events))
	}
}

func TestRegistry_RegisterAll(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "cache.json"), nil)
	gw := plm.NewMockGateway(0)

	snaps := r.RegisterAll(gw)
	if len(snaps) != 3 {
		t.Fatalf("registered = %d, want 3", len(snaps))
	}
	if got := r.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestRegistry_RunDiscovery(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "cache.json"), nil)
	gw := plm.NewMockGateway(0)

	snaps, err := r.RunDiscovery(context.Background(), gw, false)
	if err != nil {
		t.Fatalf("RunDiscovery() error: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("discovered = %d, want 3", len(snaps))
	}
	if r.LastDiscovery().IsZero() {
		t.Error("LastDiscovery() is zero after discovery")
	}
}

// gateGateway blocks inside Load until released, recording how many
// Load calls overlap.
type gateGateway struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	started chan struct{}
	release chan struct{}
}

func (g *gateGateway) Load(_ context.Context, _ bool) error {
	g.mu.Lock()
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()

	g.started <- struct{}{}
	<-g.release

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return nil
}

func (g *gateGateway) Devices() []plm.Device { return nil }

func (g *gateGateway) Find(string) plm.Device { return nil }

func (g *gateGateway) Subscribe(func(plm.GatewayEvent)) (plm.Subscription, error) { return nil, nil }

func (g *gateGateway) Modem() plm.Closer { return nil }

func (g *gateGateway) Close(context.Context) error { return nil }

func TestRegistry_RunDiscoverySerialized(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "cache.json"), nil)
	gw := &gateGateway{started: make(chan struct{}, 2), release: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.RunDiscovery(context.Background(), gw, false); err != nil {
				t.Errorf("RunDiscovery() error: %v", err)
			}
		}()
	}

	// First Load is underway and parked on the release gate. The second
	// caller must not reach the gateway while it holds the lock.
	<-gw.started
	select {
	case <-gw.started:
		t.Fatal("second Load started before the first completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(gw.release)
	<-gw.started
	wg.Wait()

	gw.mu.Lock()
	maxSeen := gw.maxSeen
	gw.mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("overlapping Load calls = %d, want 1", maxSeen)
	}
}
