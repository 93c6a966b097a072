// Package device provides the device registry and snapshot model for the
// HomeBrain Insteon core.
//
// The Registry is the authoritative mapping from normalized device id to
// the live gateway handle and to the last-known Snapshot. Snapshots are
// immutable-per-update, serializable records built by probing the
// duck-typed gateway handles; they are what the transport layer and the
// on-disk cache see.
//
// The registry persists its snapshot cache as a JSON document and reloads
// it at startup, so device listings survive gateway outages. Persistence
// failures are logged and never fatal: the in-memory cache remains
// authoritative for the running process.
//
// Thread Safety: all Registry methods are safe for concurrent use.
package device
