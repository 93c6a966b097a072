// Package history records device state changes to SQLite and serves
// time-bounded queries over them.
//
// The recorder subscribes to the event pipeline and persists every
// device_state event as one row in the state_history table. Queries
// filter by device, channel, and time range with pagination.
//
// Retention is the operator's concern: Prune deletes rows older than a
// cutoff and is typically run from a timer in the daemon.
package history
