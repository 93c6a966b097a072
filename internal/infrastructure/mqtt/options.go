package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/homebrain/insteon-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial broker dial in Connect.
	connectTimeout = 10 * time.Second

	// operationTimeout bounds publish/subscribe acknowledgements.
	operationTimeout = 5 * time.Second

	// disconnectQuiesceMS is the grace paho gives in-flight work on
	// Disconnect, in milliseconds.
	disconnectQuiesceMS = 1000

	keepAlive = 60 * time.Second
	maxQoS    = 2
)

// clientOptions translates the mqtt section of config.yaml into paho
// options: tcp or ssl broker URL, optional credentials, clean session,
// and auto-reconnect with the configured backoff window.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// statusPayload builds the retained system-status body used for the
// LWT, the online announcement, and graceful shutdown. Reason is
// omitted when empty.
func statusPayload(status, clientID, reason string) string {
	body := struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(body) //nolint:errcheck // fixed struct cannot fail
	return string(b)
}
