// insteond - Insteon powerline gateway bridge daemon
//
// insteond supervises the connection to an Insteon PLM modem and exposes
// the powerline device network over a REST/WebSocket API and MQTT:
//   - Automatic reconnection with exponential backoff
//   - Persistent device snapshot cache for disconnected operation
//   - State history in SQLite, telemetry in InfluxDB
//   - Mock gateway for development without hardware
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/homebrain/insteon-core/migrations"

	"github.com/homebrain/insteon-core/internal/api"
	"github.com/homebrain/insteon-core/internal/bridge"
	"github.com/homebrain/insteon-core/internal/device"
	"github.com/homebrain/insteon-core/internal/events"
	"github.com/homebrain/insteon-core/internal/history"
	"github.com/homebrain/insteon-core/internal/infrastructure/config"
	"github.com/homebrain/insteon-core/internal/infrastructure/database"
	"github.com/homebrain/insteon-core/internal/infrastructure/influxdb"
	"github.com/homebrain/insteon-core/internal/infrastructure/logging"
	"github.com/homebrain/insteon-core/internal/infrastructure/mqtt"
	"github.com/homebrain/insteon-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting insteond",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration. A missing file is not fatal: the daemon runs on
	// defaults plus environment overrides, which covers container setups.
	configPath := getConfigPath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the state-history database (optional). Without it the daemon
	// still runs; the history endpoint reports unavailable.
	var db *database.DB
	var historyRepo history.Repository
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		historyRepo = history.NewSQLiteRepository(db.DB)
	} else {
		log.Info("state history disabled")
	}

	// Initialise device registry from the snapshot cache so reads work
	// before the first gateway connection.
	registry := device.NewRegistry(cfg.Cache.Path, log)
	registry.LoadCache()
	log.Info("device registry initialised", "devices", registry.Count())

	// Event pipeline. The status closure feeds the ws_connected snapshot
	// sent to newly attached subscribers; the bridge is created below.
	var br *bridge.Bridge
	pipeline := events.New(cfg.Events.QueueSize, func() any {
		if br == nil {
			return nil
		}
		return br.StatusSnapshot()
	}, log)

	br = bridge.New(bridge.Options{
		SerialPort:              cfg.Insteon.SerialPort,
		ReconnectInitial:        cfg.ReconnectInitial(),
		ReconnectMax:            cfg.ReconnectMax(),
		DiscoveryRefreshDefault: cfg.Insteon.DiscoveryRefreshDefault,
		AllowMock:               cfg.Insteon.Mock.Allow,
		MockFallback:            cfg.Insteon.Mock.Fallback,
		ForceMock:               cfg.Insteon.Mock.Force,
		MockCycle:               cfg.MockCycle(),
		Registry:                registry,
		Pipeline:                pipeline,
		Logger:                  log,
	})

	// Record device state changes for history queries
	if historyRepo != nil {
		pipeline.Attach(history.NewRecorder(historyRepo, log))
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// Republish pipeline events to MQTT and accept commands from it
		republisher := mqtt.NewRepublisher(mqttClient, br, byte(cfg.MQTT.QoS), log)
		if startErr := republisher.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT republisher: %w", startErr)
		}
		pipeline.Attach(republisher)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		pipeline.Attach(telemetry.NewWriter(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the bridge supervisor (also starts the pipeline dispatch loop)
	br.Start()
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()

	// Start the API server
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Bridge:   br,
		History:  historyRepo,
		Pipeline: pipeline,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Bridge (gateway teardown, pipeline stop)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("insteond stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INSTEON_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INSTEON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Bridge health is reflected in its status snapshot; a disconnected
	// gateway is an expected runtime state, not a startup failure.

	return nil
}
