package bridge

// State identifies where the supervisor is in its connection lifecycle.
type State int32

// Supervisor states.
const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateMockConnected
	StateDisconnected
	StateStopped
)

// String returns the lower-case state name used in logs and status.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateMockConnected:
		return "mock_connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the process-wide bridge state reported to status queries.
// It is initialized at startup, mutated only by the supervisor and
// registry, and never persisted.
type Status struct {
	Connected          bool   `json:"connected"`
	State              string `json:"state"`
	Port               string `json:"port"`
	ConnectAttempts    int    `json:"connect_attempts"`
	SuccessfulConnects int    `json:"successful_connects"`
	LastError          string `json:"last_error,omitempty"`
	DeviceCount        int    `json:"device_count"`
	LastDiscovery      string `json:"last_discovery,omitempty"`
	MockMode           bool   `json:"mock_mode"`
	Subscribers        int    `json:"subscribers"`
}
