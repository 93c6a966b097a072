// Package logging wraps log/slog for the daemon.
//
// Every entry is structured and carries service and version fields.
// Level, format (json or text), and destination come from the logging
// section of config.yaml:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "json"   # json, text
//	  output: "stdout" # stdout, stderr
//
// Component packages take the *Logger (or a narrow interface over it)
// via their constructors and scope it with With("component", ...).
// Never log tokens or credentials.
package logging
