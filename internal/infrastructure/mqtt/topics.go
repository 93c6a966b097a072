package mqtt

import "fmt"

// Topic prefixes for the Insteon core.
//
// All device topics use the flat scheme: homebrain/insteon/{category}/{id}
// so that other services can subscribe per-device or with wildcards.
const (
	// TopicPrefixInsteon is the base for all Insteon bridge topics.
	TopicPrefixInsteon = "homebrain/insteon"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "homebrain/system"
)

// Topics provides builders for the core's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("1a2b3c")
//	// Returns: "homebrain/insteon/device/1a2b3c/state"
type Topics struct{}

// DeviceState returns the retained state topic for a device.
//
// Example: homebrain/insteon/device/1a2b3c/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixInsteon, deviceID)
}

// DeviceCommand returns the command intake topic for a device.
// Other services publish command payloads here.
//
// Example: homebrain/insteon/device/1a2b3c/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/command", TopicPrefixInsteon, deviceID)
}

// DeviceEvent returns the topic for discrete device events (button
// presses, fast-on, heartbeats).
//
// Example: homebrain/insteon/device/1a2b3c/event
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/event", TopicPrefixInsteon, deviceID)
}

// DeviceAck returns the topic for command acknowledgements.
//
// Example: homebrain/insteon/device/1a2b3c/ack
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/ack", TopicPrefixInsteon, deviceID)
}

// Event returns the topic for a pipeline event type.
//
// Example: homebrain/insteon/event/discovery_complete
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixInsteon, eventType)
}

// BridgeStatus returns the retained connection status topic.
//
// Example: homebrain/insteon/bridge/status
func (Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", TopicPrefixInsteon)
}

// SystemStatus returns the system status topic used for LWT and
// online/offline announcements.
//
// Example: homebrain/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceCommands returns a pattern matching every device command
// intake topic.
//
// Pattern: homebrain/insteon/device/+/command
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/device/+/command", TopicPrefixInsteon)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: homebrain/insteon/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefixInsteon)
}

// AllEvents returns a pattern matching all pipeline event topics.
//
// Pattern: homebrain/insteon/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixInsteon)
}

// AllTopics returns a pattern matching all of the core's topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: homebrain/insteon/#
func (Topics) AllTopics() string {
	return TopicPrefixInsteon + "/#"
}
