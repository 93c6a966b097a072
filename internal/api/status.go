package api

import "net/http"

// statusResponse wraps the bridge status snapshot with daemon metadata.
type statusResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Bridge  any    `json:"bridge"`
	Clients int    `json:"ws_clients"`
}

// handleStatus returns the bridge connection status. It is deliberately
// unauthenticated so monitoring probes work without credentials.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Service: "insteon-core",
		Version: s.version,
		Bridge:  s.bridge.StatusSnapshot(),
	}
	if s.hub != nil {
		resp.Clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
