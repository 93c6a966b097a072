// Package influxdb stores gateway telemetry in InfluxDB v2.
//
// Numeric device state channels (dimmer levels, sensor values) and
// bridge connection metrics land here via the telemetry writer attached
// to the event pipeline. Writes go through the client library's
// non-blocking batched write API; batch size and flush interval come
// from config.yaml, and write failures surface on the SetOnError
// callback rather than as return values.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil { ... }
//	defer client.Close()
//	client.WriteDeviceState("1a2b3c", "level", 1, 128)
package influxdb
