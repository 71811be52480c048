package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/carousel-core/internal/device"
)

// handleListDevices returns all registered devices, with an optional
// health filter.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	if healthStr := r.URL.Query().Get("health"); healthStr != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.HealthStatus == device.HealthStatus(healthStr) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.Create(r.Context(), &dev); err != nil {
		if isDeviceValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, device.ErrDeviceExists) {
			writeConflict(w, "a device with that UDID already exists")
			return
		}
		writeInternalError(w, "failed to create device")
		return
	}

	s.auditLog("create", "device", dev.ID, map[string]any{"udid": dev.UDID, "name": dev.Name})
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if err := s.devices.Update(r.Context(), existing); err != nil {
		if isDeviceValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	s.auditLog("update", "device", id, nil)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice removes a device by ID. Accounts bound to it keep
// existing but lose their device binding.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.auditLog("delete", "device", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListDeviceAccounts returns the accounts bound to a device.
func (s *Server) handleListDeviceAccounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.devices.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	accounts, err := s.accounts.ListByDevice(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
}

// isDeviceValidationError checks whether an error is a device validation error.
// ValidateDevice wraps several sentinel errors so we check all of them.
func isDeviceValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidUDID) ||
		errors.Is(err, device.ErrInvalidPlatform) ||
		errors.Is(err, device.ErrInvalidHealthStatus)
}
