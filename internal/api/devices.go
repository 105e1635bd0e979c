package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
	"github.com/9a4gl/centrometal-web-boiler/internal/session"
)

const (
	// commandTimeout bounds a portal control request made on behalf of a client.
	commandTimeout = 15 * time.Second

	// refreshTimeout bounds a full refresh across all devices.
	refreshTimeout = 2 * time.Minute
)

// powerRequest is the body of the power endpoints.
type powerRequest struct {
	On *bool `json:"on"`
}

// handleListDevices returns a snapshot of every device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.controller.Devices().Devices()
	out := make([]device.Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// handleGetDevice returns one device by serial.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

// handleGetParameter returns a single parameter of a device.
func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	p, found := d.Parameter(name)
	if !found {
		writeNotFound(w, "parameter not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// handleGetWidget returns the first widget of a device using a template.
func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	template := chi.URLParam(r, "template")
	widget, found := d.WidgetByTemplate(template)
	if !found {
		writeNotFound(w, "no widget with template "+template)
		return
	}
	writeJSON(w, http.StatusOK, widget)
}

// handleSetPower switches a device on or off.
//
// Body: {"on": true}
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	on, ok := decodePower(w, r)
	if !ok {
		return
	}
	serial := chi.URLParam(r, "serial")

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.controller.SetPower(ctx, serial, on)
	s.writeCommandResult(w, r, err, map[string]any{"serial": serial, "on": on})
}

// handleSetCircuitPower switches one heating circuit on or off.
func (s *Server) handleSetCircuitPower(w http.ResponseWriter, r *http.Request) {
	circuit, err := strconv.Atoi(chi.URLParam(r, "circuit"))
	if err != nil || circuit < 0 {
		writeBadRequest(w, "circuit must be a non-negative integer")
		return
	}
	on, ok := decodePower(w, r)
	if !ok {
		return
	}
	serial := chi.URLParam(r, "serial")

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err = s.controller.SetCircuitPower(ctx, serial, circuit, on)
	s.writeCommandResult(w, r, err, map[string]any{"serial": serial, "circuit": circuit, "on": on})
}

// handleRefresh asks every device to push fresh values. It blocks until
// the refresh sequence has been sent; the values arrive on the live feed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if !s.controller.Refresh(ctx, s.delay) {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "refresh failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "refresh requested"})
}

func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	serial := chi.URLParam(r, "serial")
	d, err := s.controller.Devices().DeviceBySerial(serial)
	if err != nil {
		writeNotFound(w, "device not found: "+serial)
		return nil, false
	}
	return d, true
}

func decodePower(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false, false
	}
	if req.On == nil {
		writeBadRequest(w, `"on" is required`)
		return false, false
	}
	return *req.On, true
}

// writeCommandResult maps a control error to a response.
func (s *Server) writeCommandResult(w http.ResponseWriter, r *http.Request, err error, body map[string]any) {
	switch {
	case err == nil:
		body["status"] = "accepted"
		writeJSON(w, http.StatusOK, body)
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, session.ErrCommandRejected):
		writeError(w, http.StatusConflict, ErrCodeRejected, err.Error())
	default:
		s.logger.Warn("control command failed", "path", r.URL.Path, "error", err, "request_id", requestID(r))
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "portal request failed")
	}
}
