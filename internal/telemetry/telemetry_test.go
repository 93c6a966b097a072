package telemetry

import (
	"sync"
	"testing"

	"github.com/homebrain/insteon-core/internal/events"
)

type recordedState struct {
	deviceID string
	channel  string
	group    int
	value    float64
}

type fakeMetrics struct {
	mu     sync.Mutex
	states []recordedState
	bridge map[string]float64
}

func (f *fakeMetrics) WriteDeviceState(deviceID, channel string, group int, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, recordedState{deviceID, channel, group, value})
}

func (f *fakeMetrics) WriteBridgeMetric(metricName string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bridge == nil {
		f.bridge = make(map[string]float64)
	}
	f.bridge[metricName] = value
}

func TestWriter_NumericState(t *testing.T) {
	metrics := &fakeMetrics{}
	w := NewWriter(metrics)

	ev := events.Event{
		Type:     events.TypeDeviceState,
		DeviceID: "1a2b3c",
		Name:     "level",
		Group:    events.Int(1),
		Value:    128,
	}
	if err := w.Send(ev); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(metrics.states) != 1 {
		t.Fatalf("recorded %d states, want 1", len(metrics.states))
	}
	got := metrics.states[0]
	want := recordedState{"1a2b3c", "level", 1, 128}
	if got != want {
		t.Errorf("recorded %+v, want %+v", got, want)
	}
}

func TestWriter_BooleanState(t *testing.T) {
	metrics := &fakeMetrics{}
	w := NewWriter(metrics)

	if err := w.Send(events.Event{
		Type:     events.TypeDeviceState,
		DeviceID: "4d5e6f",
		Name:     "on_off_switch",
		Value:    true,
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(metrics.states) != 1 || metrics.states[0].value != 1 {
		t.Errorf("recorded %+v, want value 1", metrics.states)
	}
}

func TestWriter_SkipsNonNumeric(t *testing.T) {
	metrics := &fakeMetrics{}
	w := NewWriter(metrics)

	for _, ev := range []events.Event{
		{Type: events.TypeDeviceState, DeviceID: "1a2b3c", Name: "status", Value: "open"},
		{Type: events.TypeDeviceState, DeviceID: "1a2b3c", Name: "raw", Value: nil},
		{Type: events.TypeDeviceState, DeviceID: "1a2b3c", Value: 5}, // no channel
		{Type: events.TypeDeviceEvent, DeviceID: "1a2b3c", Name: "on"},
	} {
		if err := w.Send(ev); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if len(metrics.states) != 0 {
		t.Errorf("recorded %d states, want 0", len(metrics.states))
	}
}

func TestWriter_BridgeStatus(t *testing.T) {
	metrics := &fakeMetrics{}
	w := NewWriter(metrics)

	if err := w.Send(events.Event{
		Type:      events.TypeBridgeStatus,
		Connected: events.Bool(true),
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if metrics.bridge["connected"] != 1 {
		t.Errorf("bridge connected metric = %v, want 1", metrics.bridge["connected"])
	}
}
