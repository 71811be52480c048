package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/device"
)

// handleListAccounts returns all publishing accounts, optionally
// filtered by device.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		accounts, err := s.accounts.ListByDevice(ctx, deviceID)
		if err != nil {
			writeInternalError(w, "failed to list accounts")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
		return
	}

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		writeInternalError(w, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
}

// handleGetAccount returns a single account by ID.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	acct, err := s.accounts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		writeInternalError(w, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

// handleCreateAccount registers a new publishing account. The device it
// is bound to must already exist.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var acct account.Account
	if err := json.NewDecoder(r.Body).Decode(&acct); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if acct.DeviceID != "" {
		if _, err := s.devices.GetByID(r.Context(), acct.DeviceID); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				writeBadRequest(w, "device_id does not reference a known device")
				return
			}
			writeInternalError(w, "failed to verify device")
			return
		}
	}

	if err := s.accounts.Create(r.Context(), &acct); err != nil {
		if isAccountValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, account.ErrAccountExists) {
			writeConflict(w, "an account with that username already exists")
			return
		}
		writeInternalError(w, "failed to create account")
		return
	}

	s.auditLog("create", "account", acct.ID, map[string]any{"username": acct.Username})
	writeJSON(w, http.StatusCreated, acct)
}

// handleUpdateAccount partially updates an account.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.accounts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		writeInternalError(w, "failed to get account")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if existing.DeviceID != "" {
		if _, err := s.devices.GetByID(r.Context(), existing.DeviceID); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				writeBadRequest(w, "device_id does not reference a known device")
				return
			}
			writeInternalError(w, "failed to verify device")
			return
		}
	}

	if err := s.accounts.Update(r.Context(), existing); err != nil {
		if isAccountValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update account")
		return
	}

	s.auditLog("update", "account", id, nil)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteAccount removes an account by ID.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.accounts.Delete(r.Context(), id); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		writeInternalError(w, "failed to delete account")
		return
	}

	s.auditLog("delete", "account", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// isAccountValidationError checks whether an error is an account validation error.
func isAccountValidationError(err error) bool {
	return errors.Is(err, account.ErrInvalidAccount) ||
		errors.Is(err, account.ErrInvalidUsername) ||
		errors.Is(err, account.ErrDeviceRequired)
}
