package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homebrain/insteon-core/internal/device"
	"github.com/homebrain/insteon-core/internal/history"
)

// handleListDevices returns all known devices, live when connected and
// cached otherwise.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.ListDevices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.bridge.GetDevice(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// commandRequest is the body for POST /devices/{id}/command.
type commandRequest struct {
	Command  string   `json:"command"`
	Level    *int     `json:"level,omitempty"`
	Fast     bool     `json:"fast,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// handleDeviceCommand dispatches a command to a device and returns the
// acknowledgement event.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ack, err := s.bridge.SendCommand(r.Context(), id, req.Command, req.Level, req.Fast, req.Duration)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ack)
}

// handleDeviceHistory returns recorded state changes for a device.
//
// Query parameters:
//   - channel: filter by state channel name (level, on, ...)
//   - since: inclusive RFC3339 lower bound
//   - until: exclusive RFC3339 upper bound
//   - limit: page size (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "state history not configured")
		return
	}

	id := device.NormalizeID(chi.URLParam(r, "id"))

	filter := history.Filter{
		DeviceID: id,
		Channel:  r.URL.Query().Get("channel"),
	}

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "invalid since timestamp")
			return
		}
		filter.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "invalid until timestamp")
			return
		}
		filter.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = n
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("history query failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to query state history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
