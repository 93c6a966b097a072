package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// discoveryRequest is the optional body for POST /discovery.
type discoveryRequest struct {
	Refresh *bool `json:"refresh,omitempty"`
}

// handleDiscovery enumerates devices on the powerline network. An empty
// body runs discovery with the configured default refresh behaviour.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.bridge.RunDiscovery(r.Context(), req.Refresh)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
