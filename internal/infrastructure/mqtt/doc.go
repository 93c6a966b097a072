// Package mqtt is the daemon's broker surface.
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// replay, and a retained Last Will on homebrain/system/status so other
// services can tell a crash from a graceful shutdown. The Republisher
// mirrors pipeline events onto homebrain/insteon/... topics and accepts
// device command payloads published by other services.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil { ... }
//	defer client.Close()
//
//	rep := mqtt.NewRepublisher(client, bridge, 1, log)
//	if err := rep.Start(); err != nil { ... }
//	pipeline.Attach(rep)
//
// Enable TLS on the broker config for anything beyond local
// development; payloads are plaintext JSON under the transport.
package mqtt
