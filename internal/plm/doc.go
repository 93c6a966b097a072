// Package plm defines the capability contract for the Insteon powerline
// modem gateway and the devices reachable through it.
//
// The actual wire protocol (message framing, link databases, X10 compat)
// is out of scope: it belongs to an external driver that registers itself
// via RegisterDriver. The rest of the system only ever sees the Gateway
// and Device interfaces declared here, which keeps the bridge testable
// against the in-process mock gateway.
//
// Device capabilities vary across hardware models, so Device is
// deliberately minimal and everything else is an optional interface
// (Switch, FastSwitch, StatusQuerier, ...). Callers probe with type
// assertions rather than assuming a fixed shape.
package plm
