package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/carousel-core/internal/carousel"
)

// handleListRuns returns runs newest first, with optional filters.
//
// Query parameters:
//   - carousel_id: filter by carousel
//   - account_id: filter by account
//   - phase: filter by phase (idle, uploading, live_waiting, deleting,
//     cycle_done, terminated, error)
//   - limit: maximum number of runs to return
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := carousel.RunFilter{
		CarouselID: r.URL.Query().Get("carousel_id"),
		AccountID:  r.URL.Query().Get("account_id"),
		Phase:      carousel.Phase(r.URL.Query().Get("phase")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	runs, err := s.carousels.ListRuns(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns a run with its live item set.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.carousels.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, carousel.ErrRunNotFound) {
			writeNotFound(w, "run not found")
			return
		}
		writeInternalError(w, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleCancelRun requests a graceful stop of a run. The stop happens at
// the next item boundary, so the response is 202 rather than 200.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.runs.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, carousel.ErrRunNotFound):
			writeNotFound(w, "run not found")
		case errors.Is(err, carousel.ErrRunFinished):
			writeConflict(w, "run has already finished")
		default:
			writeInternalError(w, "failed to cancel run")
		}
		return
	}

	s.auditLog("cancel", "run", id, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  id,
		"status":  "cancel_requested",
		"message": "run will stop at the next item boundary",
	})
}

// handleResumeRun puts an error-phase run back into the phase that
// failed. Resuming attests that any items flagged for reconciliation
// have been manually dealt with on the account.
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.Resume(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, carousel.ErrRunNotFound):
			writeNotFound(w, "run not found")
		case errors.Is(err, carousel.ErrRunNotResumable):
			writeConflict(w, err.Error())
		default:
			writeInternalError(w, "failed to resume run")
		}
		return
	}

	s.auditLog("resume", "run", id, map[string]any{"phase": run.Phase})
	writeJSON(w, http.StatusOK, run)
}

// handleListRunEvents returns a run's activity log, newest first.
func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.carousels.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, carousel.ErrRunNotFound) {
			writeNotFound(w, "run not found")
			return
		}
		writeInternalError(w, "failed to get run")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = l
	}

	events, err := s.carousels.ListEvents(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list run events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
