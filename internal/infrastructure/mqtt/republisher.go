package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/homebrain/insteon-core/internal/events"
)

// CommandSender dispatches a device command. Implemented by the bridge;
// declared here so the command intake does not depend on the bridge
// package directly.
type CommandSender interface {
	SendCommand(ctx context.Context, id, command string, level *int, fast bool, duration *float64) (events.Event, error)
}

// RepublisherLogger is the logging surface the republisher needs.
type RepublisherLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// busClient is the slice of Client the republisher uses, narrowed so
// tests can substitute a fake broker.
type busClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Republisher mirrors pipeline events onto MQTT topics and accepts
// device commands published by other services.
//
// As an events.Subscriber it receives every pipeline event and fans it
// out per type:
//   - every event goes to homebrain/insteon/event/{type}
//   - device_state additionally updates the retained per-device state topic
//   - device_event additionally goes to the per-device event topic
//   - bridge_status additionally updates the retained bridge status topic
type Republisher struct {
	client busClient
	sender CommandSender
	topics Topics
	qos    byte
	log    RepublisherLogger
}

// NewRepublisher creates a republisher bound to a connected client.
func NewRepublisher(client *Client, sender CommandSender, qos byte, log RepublisherLogger) *Republisher {
	return &Republisher{
		client: client,
		sender: sender,
		qos:    qos,
		log:    log,
	}
}

// Start subscribes to the device command intake topics. Call after the
// client is connected; subscriptions survive reconnects.
func (r *Republisher) Start() error {
	if err := r.client.Subscribe(r.topics.AllDeviceCommands(), r.qos, r.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}
	r.log.Info("mqtt command intake active", "topic", r.topics.AllDeviceCommands())
	return nil
}

// Send implements events.Subscriber. Publish failures are logged and
// swallowed: a broker outage must not detach the republisher, the paho
// client reconnects on its own.
func (r *Republisher) Send(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("marshalling event for mqtt", "type", ev.Type, "error", err)
		return nil
	}

	r.publish(r.topics.Event(ev.Type), payload, false)

	switch ev.Type {
	case events.TypeDeviceState:
		if ev.DeviceID != "" {
			r.publish(r.topics.DeviceState(ev.DeviceID), payload, true)
		}
	case events.TypeDeviceEvent:
		if ev.DeviceID != "" {
			r.publish(r.topics.DeviceEvent(ev.DeviceID), payload, false)
		}
	case events.TypeCommandAck:
		if ev.DeviceID != "" {
			r.publish(r.topics.DeviceAck(ev.DeviceID), payload, false)
		}
	case events.TypeBridgeStatus:
		r.publish(r.topics.BridgeStatus(), payload, true)
	}

	return nil
}

func (r *Republisher) publish(topic string, payload []byte, retained bool) {
	if err := r.client.Publish(topic, payload, r.qos, retained); err != nil {
		r.log.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// commandPayload is the JSON body accepted on device command topics.
type commandPayload struct {
	Command   string   `json:"command"`
	Level     *int     `json:"level,omitempty"`
	Fast      bool     `json:"fast,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// commandResult is published on the per-device ack topic after an
// MQTT-originated command, carrying the correlation id. API-originated
// commands ack through the pipeline instead.
type commandResult struct {
	RequestID string        `json:"request_id"`
	DeviceID  string        `json:"device_id"`
	Command   string        `json:"command"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Ack       *events.Event `json:"ack,omitempty"`
}

// handleCommand processes one message from a device command topic.
// Runs on a paho goroutine; SendCommand is synchronous but bounded by
// the dispatch timeout.
func (r *Republisher) handleCommand(topic string, payload []byte) error {
	deviceID, ok := deviceIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command payload: %w", err)
	}
	if cmd.Command == "" {
		return fmt.Errorf("command payload for %s missing command field", deviceID)
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.New().String()
	}

	r.log.Debug("mqtt command received",
		"device_id", deviceID,
		"command", cmd.Command,
		"request_id", cmd.RequestID,
	)

	result := commandResult{
		RequestID: cmd.RequestID,
		DeviceID:  deviceID,
		Command:   cmd.Command,
	}

	ack, err := r.sender.SendCommand(context.Background(), deviceID, cmd.Command, cmd.Level, cmd.Fast, cmd.Duration)
	if err != nil {
		result.Error = err.Error()
		r.log.Warn("mqtt command failed",
			"device_id", deviceID,
			"command", cmd.Command,
			"error", err,
		)
	} else {
		result.OK = true
		result.Ack = &ack
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling command result: %w", err)
	}
	r.publish(r.topics.DeviceAck(deviceID), body, false)
	return nil
}

// deviceIDFromTopic extracts the device id from a command topic of the
// form homebrain/insteon/device/{id}/command.
func deviceIDFromTopic(topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixInsteon+"/device/")
	if !found {
		return "", false
	}
	id, found := strings.CutSuffix(rest, "/command")
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
