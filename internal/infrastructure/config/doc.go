// Package config loads, defaults, and validates the daemon configuration.
//
// Configuration is resolved in three layers: built-in defaults, an
// optional YAML file, and INSTEON_* environment variables, each layer
// overriding the previous one. LoadOrDefault lets the daemon start with
// no file at all, which together with the mock gateway gives a
// zero-setup development mode.
//
// Secrets (broker passwords, API and InfluxDB tokens) are expected to
// arrive through the environment rather than the file, and the file
// itself should be kept at mode 0600 when it carries any.
//
//	cfg, err := config.LoadOrDefault(os.Getenv("INSTEON_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
