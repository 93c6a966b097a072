// Package telemetry forwards numeric device state to InfluxDB.
//
// The writer subscribes to the event pipeline and records every
// device_state event whose value is numeric (or boolean, stored as
// 0/1). Non-numeric channels are skipped; time-series storage only
// makes sense for values you can graph.
package telemetry

import (
	"github.com/homebrain/insteon-core/internal/events"
)

// MetricsClient is the write surface the forwarder needs. Implemented
// by infrastructure/influxdb.Client.
type MetricsClient interface {
	WriteDeviceState(deviceID, channel string, group int, value float64)
	WriteBridgeMetric(metricName string, value float64)
}

// Writer is an events.Subscriber that mirrors numeric state onto the
// metrics backend. Writes are non-blocking; the influx client batches
// internally.
type Writer struct {
	client MetricsClient
}

// NewWriter creates a telemetry writer.
func NewWriter(client MetricsClient) *Writer {
	return &Writer{client: client}
}

// Send implements events.Subscriber.
func (w *Writer) Send(ev events.Event) error {
	switch ev.Type {
	case events.TypeDeviceState:
		if ev.DeviceID == "" || ev.Name == "" {
			return nil
		}
		value, ok := numericValue(ev.Value)
		if !ok {
			return nil
		}
		group := 0
		if ev.Group != nil {
			group = *ev.Group
		}
		w.client.WriteDeviceState(ev.DeviceID, ev.Name, group, value)

	case events.TypeBridgeStatus:
		if ev.Connected != nil {
			connected := 0.0
			if *ev.Connected {
				connected = 1.0
			}
			w.client.WriteBridgeMetric("connected", connected)
		}
	}
	return nil
}

// numericValue coerces a state value to float64. Booleans map to 0/1.
func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint8:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
