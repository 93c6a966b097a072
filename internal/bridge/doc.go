// Package bridge implements the connection supervisor and command
// dispatcher for the HomeBrain Insteon core.
//
// The supervisor owns the gateway connection's lifecycle: it connects,
// retries with exponential backoff, optionally falls back to the mock
// gateway, and on every successful connection primes the device registry
// and routes gateway notifications into the event pipeline. The command
// dispatcher resolves logical command names against the duck-typed
// capability surfaces of live device handles.
//
// Lifecycle:
//
//	b := bridge.New(opts)
//	b.Start()
//	defer b.Stop()
//
// Thread Safety: all exported methods are safe for concurrent use.
package bridge
