package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/carousel"
	"github.com/nerrad567/carousel-core/internal/content"
)

// handleListCarousels returns all carousel definitions, optionally
// filtered by account.
func (s *Server) handleListCarousels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if accountID := r.URL.Query().Get("account_id"); accountID != "" {
		carousels, err := s.carousels.ListCarouselsByAccount(ctx, accountID)
		if err != nil {
			writeInternalError(w, "failed to list carousels")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"carousels": carousels, "count": len(carousels)})
		return
	}

	carousels, err := s.carousels.ListCarousels(ctx)
	if err != nil {
		writeInternalError(w, "failed to list carousels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"carousels": carousels, "count": len(carousels)})
}

// handleGetCarousel returns a single carousel by ID.
func (s *Server) handleGetCarousel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	car, err := s.carousels.GetCarousel(r.Context(), id)
	if err != nil {
		if errors.Is(err, carousel.ErrCarouselNotFound) {
			writeNotFound(w, "carousel not found")
			return
		}
		writeInternalError(w, "failed to get carousel")
		return
	}

	writeJSON(w, http.StatusOK, car)
}

// handleCreateCarousel creates a carousel definition. Unset batch and
// wait-window fields are filled from the scheduler defaults.
func (s *Server) handleCreateCarousel(w http.ResponseWriter, r *http.Request) {
	var car carousel.Carousel
	if err := json.NewDecoder(r.Body).Decode(&car); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if car.ItemsPerCycle == 0 {
		car.ItemsPerCycle = s.defaults.ItemsPerCycle
	}
	if car.WaitMinMinutes == 0 && car.WaitMaxMinutes == 0 {
		car.WaitMinMinutes = s.defaults.WaitMinMinutes
		car.WaitMaxMinutes = s.defaults.WaitMaxMinutes
	}

	if _, err := s.accounts.GetByID(r.Context(), car.AccountID); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			writeBadRequest(w, "account_id does not reference a known account")
			return
		}
		writeInternalError(w, "failed to verify account")
		return
	}
	if _, err := s.content.GetItem(r.Context(), car.ContentItemID); err != nil {
		if errors.Is(err, content.ErrItemNotFound) {
			writeBadRequest(w, "content_item_id does not reference a known content item")
			return
		}
		writeInternalError(w, "failed to verify content item")
		return
	}

	if err := s.carousels.CreateCarousel(r.Context(), &car); err != nil {
		if isCarouselValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create carousel")
		return
	}

	s.auditLog("create", "carousel", car.ID, map[string]any{
		"account_id":      car.AccountID,
		"content_item_id": car.ContentItemID,
		"items_per_cycle": car.ItemsPerCycle,
	})
	writeJSON(w, http.StatusCreated, car)
}

// handleUpdateCarousel partially updates a carousel definition. Updates
// are rejected while a run is active: the controller re-reads the
// definition every tick, so a mid-run change to the batch size or wait
// window would alter a cycle already underway.
func (s *Server) handleUpdateCarousel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.carousels.GetCarousel(r.Context(), id)
	if err != nil {
		if errors.Is(err, carousel.ErrCarouselNotFound) {
			writeNotFound(w, "carousel not found")
			return
		}
		writeInternalError(w, "failed to get carousel")
		return
	}

	active, err := s.carousels.ActiveRunForCarousel(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to check active runs")
		return
	}
	if active != nil {
		writeConflict(w, "carousel has an active run; cancel it before changing settings")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if err := s.carousels.UpdateCarousel(r.Context(), existing); err != nil {
		if isCarouselValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update carousel")
		return
	}

	s.auditLog("update", "carousel", id, nil)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteCarousel removes a carousel definition.
func (s *Server) handleDeleteCarousel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.carousels.ActiveRunForCarousel(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to check active runs")
		return
	}
	if existing != nil {
		writeConflict(w, "carousel has an active run; cancel it first")
		return
	}

	if err := s.carousels.DeleteCarousel(r.Context(), id); err != nil {
		if errors.Is(err, carousel.ErrCarouselNotFound) {
			writeNotFound(w, "carousel not found")
			return
		}
		writeInternalError(w, "failed to delete carousel")
		return
	}

	s.auditLog("delete", "carousel", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleActivateCarousel starts a new run for the carousel.
func (s *Server) handleActivateCarousel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.Activate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, carousel.ErrCarouselNotFound):
			writeNotFound(w, "carousel not found")
		case errors.Is(err, carousel.ErrRunActive):
			writeConflict(w, err.Error())
		default:
			writeInternalError(w, "failed to activate carousel")
		}
		return
	}

	s.auditLog("activate", "run", run.ID, map[string]any{"carousel_id": id})
	writeJSON(w, http.StatusCreated, run)
}

// isCarouselValidationError checks whether an error is a carousel validation error.
func isCarouselValidationError(err error) bool {
	return errors.Is(err, carousel.ErrInvalidCarousel) ||
		errors.Is(err, carousel.ErrInvalidWaitWindow)
}
