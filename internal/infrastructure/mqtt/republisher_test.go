package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/homebrain/insteon-core/internal/events"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// brokerMsg is one captured publish.
type brokerMsg struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeBroker records publishes and subscriptions in place of a live
// broker connection.
type fakeBroker struct {
	mu         sync.Mutex
	messages   []brokerMsg
	subs       map[string]MessageHandler
	publishErr error
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, brokerMsg{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]MessageHandler)
	}
	f.subs[topic] = handler
	return nil
}

// find returns the first captured publish on topic.
func (f *fakeBroker) find(topic string) (brokerMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.topic == topic {
			return m, true
		}
	}
	return brokerMsg{}, false
}

// fakeSender records the last dispatched command.
type fakeSender struct {
	lastID      string
	lastCommand string
	lastLevel   *int
	lastFast    bool
	err         error
}

func (f *fakeSender) SendCommand(_ context.Context, id, command string, level *int, fast bool, _ *float64) (events.Event, error) {
	f.lastID = id
	f.lastCommand = command
	f.lastLevel = level
	f.lastFast = fast
	if f.err != nil {
		return events.Event{}, f.err
	}
	return events.Event{Type: events.TypeCommandAck, DeviceID: id, Command: command, Level: level}, nil
}

func newTestRepublisher(broker *fakeBroker, sender *fakeSender) *Republisher {
	return &Republisher{client: broker, sender: sender, qos: 1, log: nopLogger{}}
}

func TestRepublisher_Start(t *testing.T) {
	broker := &fakeBroker{}
	r := newTestRepublisher(broker, &fakeSender{})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, ok := broker.subs["homebrain/insteon/device/+/command"]; !ok {
		t.Errorf("command intake not subscribed, subs = %v", broker.subs)
	}
}

func TestRepublisher_SendFanout(t *testing.T) {
	topics := Topics{}

	type publishSpec struct {
		topic    string
		retained bool
	}
	cases := []struct {
		name string
		ev   events.Event
		want []publishSpec
	}{
		{
			name: "device state fans out to retained state topic",
			ev:   events.Event{Type: events.TypeDeviceState, DeviceID: "1a2b3c"},
			want: []publishSpec{
				{topics.Event(events.TypeDeviceState), false},
				{topics.DeviceState("1a2b3c"), true},
			},
		},
		{
			name: "device event fans out unretained",
			ev:   events.Event{Type: events.TypeDeviceEvent, DeviceID: "1a2b3c"},
			want: []publishSpec{
				{topics.Event(events.TypeDeviceEvent), false},
				{topics.DeviceEvent("1a2b3c"), false},
			},
		},
		{
			name: "command ack fans out to ack topic",
			ev:   events.Event{Type: events.TypeCommandAck, DeviceID: "1a2b3c"},
			want: []publishSpec{
				{topics.Event(events.TypeCommandAck), false},
				{topics.DeviceAck("1a2b3c"), false},
			},
		},
		{
			name: "bridge status fans out retained",
			ev:   events.Event{Type: events.TypeBridgeStatus},
			want: []publishSpec{
				{topics.Event(events.TypeBridgeStatus), false},
				{topics.BridgeStatus(), true},
			},
		},
		{
			name: "other events only reach the event topic",
			ev:   events.Event{Type: events.TypeDiscoveryComplete},
			want: []publishSpec{
				{topics.Event(events.TypeDiscoveryComplete), false},
			},
		},
		{
			name: "state without device id skips the per-device topic",
			ev:   events.Event{Type: events.TypeDeviceState},
			want: []publishSpec{
				{topics.Event(events.TypeDeviceState), false},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := &fakeBroker{}
			r := newTestRepublisher(broker, &fakeSender{})

			if err := r.Send(tc.ev); err != nil {
				t.Fatalf("Send() error: %v", err)
			}
			if len(broker.messages) != len(tc.want) {
				t.Fatalf("publishes = %d, want %d (%v)", len(broker.messages), len(tc.want), broker.messages)
			}
			for _, w := range tc.want {
				msg, ok := broker.find(w.topic)
				if !ok {
					t.Fatalf("no publish on %s", w.topic)
				}
				if msg.retained != w.retained {
					t.Errorf("topic %s retained = %v, want %v", w.topic, msg.retained, w.retained)
				}
				var got events.Event
				if err := json.Unmarshal(msg.payload, &got); err != nil {
					t.Fatalf("payload on %s is not an event: %v", w.topic, err)
				}
				if got.Type != tc.ev.Type {
					t.Errorf("payload type = %q, want %q", got.Type, tc.ev.Type)
				}
			}
		})
	}
}

func TestRepublisher_SendSwallowsPublishFailure(t *testing.T) {
	broker := &fakeBroker{publishErr: ErrNotConnected}
	r := newTestRepublisher(broker, &fakeSender{})

	// A broker outage must not error out of Send: the pipeline would
	// detach the republisher and it would never recover.
	if err := r.Send(events.Event{Type: events.TypeDeviceState, DeviceID: "1a2b3c"}); err != nil {
		t.Errorf("Send() error = %v, want nil", err)
	}
}

func TestRepublisher_HandleCommand(t *testing.T) {
	topics := Topics{}
	broker := &fakeBroker{}
	sender := &fakeSender{}
	r := newTestRepublisher(broker, sender)

	payload := []byte(`{"command":"on","level":50,"fast":true,"request_id":"req-1"}`)
	if err := r.handleCommand(topics.DeviceCommand("1a2b3c"), payload); err != nil {
		t.Fatalf("handleCommand() error: %v", err)
	}

	if sender.lastID != "1a2b3c" || sender.lastCommand != "on" || !sender.lastFast {
		t.Errorf("dispatched (%q, %q, fast=%v), want (1a2b3c, on, fast=true)",
			sender.lastID, sender.lastCommand, sender.lastFast)
	}
	if sender.lastLevel == nil || *sender.lastLevel != 50 {
		t.Errorf("dispatched level = %v, want 50", sender.lastLevel)
	}

	msg, ok := broker.find(topics.DeviceAck("1a2b3c"))
	if !ok {
		t.Fatalf("no ack published, messages = %v", broker.messages)
	}
	var result commandResult
	if err := json.Unmarshal(msg.payload, &result); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if !result.OK {
		t.Errorf("result.OK = false, want true (error %q)", result.Error)
	}
	if result.RequestID != "req-1" {
		t.Errorf("result.RequestID = %q, want req-1", result.RequestID)
	}
	if result.Ack == nil || result.Ack.DeviceID != "1a2b3c" {
		t.Errorf("result.Ack = %v, want echo of the dispatch ack", result.Ack)
	}
}

func TestRepublisher_HandleCommandFailure(t *testing.T) {
	topics := Topics{}
	broker := &fakeBroker{}
	sender := &fakeSender{err: errors.New("gateway not connected")}
	r := newTestRepublisher(broker, sender)

	payload := []byte(`{"command":"on"}`)
	if err := r.handleCommand(topics.DeviceCommand("1a2b3c"), payload); err != nil {
		t.Fatalf("handleCommand() error: %v", err)
	}

	msg, ok := broker.find(topics.DeviceAck("1a2b3c"))
	if !ok {
		t.Fatal("no ack published for failed command")
	}
	var result commandResult
	if err := json.Unmarshal(msg.payload, &result); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if result.OK {
		t.Error("result.OK = true, want false")
	}
	if result.Error == "" {
		t.Error("result.Error is empty, want the dispatch error")
	}
	if result.RequestID == "" {
		t.Error("result.RequestID is empty, want a generated correlation id")
	}
}

func TestRepublisher_HandleCommandRejectsBadInput(t *testing.T) {
	topics := Topics{}

	cases := []struct {
		name    string
		topic   string
		payload string
	}{
		{"wrong topic", "homebrain/insteon/event/device_state", `{"command":"on"}`},
		{"bad json", topics.DeviceCommand("1a2b3c"), `{"command":`},
		{"missing command", topics.DeviceCommand("1a2b3c"), `{"level":50}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := &fakeBroker{}
			sender := &fakeSender{}
			r := newTestRepublisher(broker, sender)

			if err := r.handleCommand(tc.topic, []byte(tc.payload)); err == nil {
				t.Error("handleCommand() error = nil, want rejection")
			}
			if sender.lastCommand != "" {
				t.Errorf("command %q dispatched, want none", sender.lastCommand)
			}
			if len(broker.messages) != 0 {
				t.Errorf("publishes = %v, want none", broker.messages)
			}
		})
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"homebrain/insteon/device/1a2b3c/command", "1a2b3c", true},
		{"homebrain/insteon/device/1a2b3c/state", "", false},
		{"homebrain/insteon/device//command", "", false},
		{"homebrain/insteon/device/1a2b3c/extra/command", "", false},
		{"homebrain/insteon/event/device_state", "", false},
		{"other/device/1a2b3c/command", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := deviceIDFromTopic(tt.topic)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("deviceIDFromTopic(%q) = (%q, %v), want (%q, %v)",
					tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
