package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceState writes a numeric device state channel value.
//
// This is the primary method for recording device telemetry. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Normalized device id (e.g., "1a2b3c")
//   - channel: State channel name (e.g., "level", "on_off_switch")
//   - group: State group number
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceState("1a2b3c", "level", 1, 128)
func (c *Client) WriteDeviceState(deviceID, channel string, group int, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"channel":   channel,
			"group":     strconv.Itoa(group),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBridgeMetric writes a bridge lifecycle measurement.
//
// Used for tracking connection behaviour over time (attempts,
// successful connects, subscriber counts).
//
// Parameters:
//   - metricName: Bridge metric (e.g., "connect_attempts", "subscribers")
//   - value: The metric value
func (c *Client) WriteBridgeMetric(metricName string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bridge",
		map[string]string{
			"metric": metricName,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom measurement for anything the helpers do
// not cover. Tags index (keep cardinality low), fields carry the data.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
