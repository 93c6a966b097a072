package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Insteon core daemon. Values
// come from YAML with INSTEON_* environment variables layered on top.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Insteon   InsteonConfig   `yaml:"insteon"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the installation this daemon serves.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// InsteonConfig contains PLM connection and discovery settings.
type InsteonConfig struct {
	// SerialPort is the PLM device path (e.g. /dev/ttyUSB0).
	SerialPort string `yaml:"serial_port"`

	// Reconnect controls the supervisor's backoff between attempts.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// DiscoveryRefreshDefault applies when a discovery request does not
	// say whether to re-identify devices.
	DiscoveryRefreshDefault bool `yaml:"discovery_refresh_default"`

	// Mock configures the in-process mock gateway.
	Mock MockConfig `yaml:"mock"`
}

// ReconnectConfig contains reconnection backoff settings in seconds.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MockConfig contains mock gateway settings.
type MockConfig struct {
	// Allow permits mock-mode operation at all (disconnected discovery
	// served from cache, fallback, forcing).
	Allow bool `yaml:"allow"`

	// Fallback switches to the mock gateway when the PLM connection
	// fails, instead of retrying with backoff.
	Fallback bool `yaml:"fallback"`

	// Force skips the PLM entirely and runs on the mock gateway.
	Force bool `yaml:"force"`

	// CycleSeconds is the mock devices' on/off toggle interval.
	CycleSeconds int `yaml:"cycle_seconds"`
}

// CacheConfig contains device snapshot cache settings.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig holds state-history SQLite settings. With Enabled
// false the daemon runs without persistence and the history endpoint
// reports unavailable.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig holds broker settings for the MQTT republisher.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig carries broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig tunes broker reconnection, delays in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig tunes the event-stream WebSocket endpoint.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// InfluxDBConfig holds telemetry sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// EventsConfig contains event pipeline settings.
type EventsConfig struct {
	// QueueSize bounds the fan-out queue; newest events are dropped on
	// overflow.
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig selects log level, format, and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	// APIToken is the static bearer token required on all API endpoints
	// except the status probe. Empty disables authentication.
	APIToken string `yaml:"api_token"`
}

// Load reads a YAML configuration file and returns the validated result.
// Defaults are filled in first, the file overrides them, and INSTEON_*
// environment variables override the file (INSTEON_DATABASE_PATH,
// INSTEON_SERIAL_PORT, and so on).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to pure defaults plus
// environment overrides when the file does not exist. Used so the
// daemon can run with no config file at all.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig is the baseline every other source overrides. The
// defaults are enough to run the daemon in mock mode with no file.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Homebrain",
			Timezone: "UTC",
		},
		Insteon: InsteonConfig{
			SerialPort: "/dev/ttyUSB0",
			Reconnect: ReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     60,
			},
			DiscoveryRefreshDefault: false,
			Mock: MockConfig{
				Allow:        true,
				Fallback:     false,
				Force:        false,
				CycleSeconds: 30,
			},
		},
		Cache: CacheConfig{
			Path: "./data/devices.json",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/insteon.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "insteon-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		Events: EventsConfig{
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides layers INSTEON_* environment variables over the
// loaded values. Only settings that make sense to vary per deployment
// (ports, paths, credentials) have an override.
func applyEnvOverrides(cfg *Config) {
	// Insteon
	if v := os.Getenv("INSTEON_SERIAL_PORT"); v != "" {
		cfg.Insteon.SerialPort = v
	}
	if v, ok := envBool("INSTEON_MOCK_ALLOW"); ok {
		cfg.Insteon.Mock.Allow = v
	}
	if v, ok := envBool("INSTEON_MOCK_FALLBACK"); ok {
		cfg.Insteon.Mock.Fallback = v
	}
	if v, ok := envBool("INSTEON_MOCK_FORCE"); ok {
		cfg.Insteon.Mock.Force = v
	}

	// Cache / Database
	if v := os.Getenv("INSTEON_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v, ok := envBool("INSTEON_DATABASE_ENABLED"); ok {
		cfg.Database.Enabled = v
	}
	if v := os.Getenv("INSTEON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INSTEON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INSTEON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INSTEON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("INSTEON_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("INSTEON_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("INSTEON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("INSTEON_API_TOKEN"); v != "" {
		cfg.Security.APIToken = v
	}
}

// envBool reads a boolean environment variable. The second return
// reports whether the variable was set to a parseable value.
func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate reports every configuration problem at once rather than
// failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Insteon.SerialPort == "" && !c.Insteon.Mock.Force {
		errs = append(errs, "insteon.serial_port is required unless insteon.mock.force is set")
	}
	if c.Insteon.Reconnect.InitialDelay < 1 {
		errs = append(errs, "insteon.reconnect.initial_delay must be at least 1 second")
	}
	if c.Insteon.Reconnect.MaxDelay < c.Insteon.Reconnect.InitialDelay {
		errs = append(errs, "insteon.reconnect.max_delay must be >= initial_delay")
	}
	if c.Insteon.Mock.Force && !c.Insteon.Mock.Allow {
		errs = append(errs, "insteon.mock.force requires insteon.mock.allow")
	}

	if c.Cache.Path == "" {
		errs = append(errs, "cache.path is required")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is set")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Events.QueueSize < 1 {
		errs = append(errs, "events.queue_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectInitial returns the supervisor's initial backoff as a Duration.
func (c *Config) ReconnectInitial() time.Duration {
	return time.Duration(c.Insteon.Reconnect.InitialDelay) * time.Second
}

// ReconnectMax returns the supervisor's maximum backoff as a Duration.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Insteon.Reconnect.MaxDelay) * time.Second
}

// MockCycle returns the mock devices' toggle interval as a Duration.
func (c *Config) MockCycle() time.Duration {
	return time.Duration(c.Insteon.Mock.CycleSeconds) * time.Second
}

// GetReadTimeout returns the HTTP server read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP server write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP keep-alive idle timeout.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
