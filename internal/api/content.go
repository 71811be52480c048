package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/carousel-core/internal/content"
)

// handleListContentItems returns all content items, optionally filtered
// by audience profile.
func (s *Server) handleListContentItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if audienceID := r.URL.Query().Get("audience_id"); audienceID != "" {
		items, err := s.content.ListItemsByAudience(ctx, audienceID)
		if err != nil {
			writeInternalError(w, "failed to list content items")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
		return
	}

	items, err := s.content.ListItems(ctx)
	if err != nil {
		writeInternalError(w, "failed to list content items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// handleGetContentItem returns a single content item by ID.
func (s *Server) handleGetContentItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := s.content.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrItemNotFound) {
			writeNotFound(w, "content item not found")
			return
		}
		writeInternalError(w, "failed to get content item")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// handleCreateContentItem adds a content item to the catalogue. Items
// are immutable once created; correcting one means replacing it.
func (s *Server) handleCreateContentItem(w http.ResponseWriter, r *http.Request) {
	var item content.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if item.AudienceID != "" {
		if _, err := s.content.GetProfile(r.Context(), item.AudienceID); err != nil {
			if errors.Is(err, content.ErrProfileNotFound) {
				writeBadRequest(w, "audience_id does not reference a known audience profile")
				return
			}
			writeInternalError(w, "failed to verify audience profile")
			return
		}
	}

	if err := s.content.CreateItem(r.Context(), &item); err != nil {
		if errors.Is(err, content.ErrInvalidItem) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, content.ErrItemExists) {
			writeConflict(w, "a content item with that ID already exists")
			return
		}
		writeInternalError(w, "failed to create content item")
		return
	}

	s.auditLog("create", "content_item", item.ID, map[string]any{"name": item.Name})
	writeJSON(w, http.StatusCreated, item)
}

// handleDeleteContentItem removes a content item from the catalogue.
func (s *Server) handleDeleteContentItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.content.DeleteItem(r.Context(), id); err != nil {
		if errors.Is(err, content.ErrItemNotFound) {
			writeNotFound(w, "content item not found")
			return
		}
		writeInternalError(w, "failed to delete content item")
		return
	}

	s.auditLog("delete", "content_item", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListAudiences returns all audience profiles.
func (s *Server) handleListAudiences(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.content.ListProfiles(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list audience profiles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audiences": profiles, "count": len(profiles)})
}

// handleGetAudience returns a single audience profile by ID.
func (s *Server) handleGetAudience(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, err := s.content.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrProfileNotFound) {
			writeNotFound(w, "audience profile not found")
			return
		}
		writeInternalError(w, "failed to get audience profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// handleCreateAudience creates an audience profile.
func (s *Server) handleCreateAudience(w http.ResponseWriter, r *http.Request) {
	var profile content.AudienceProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.content.CreateProfile(r.Context(), &profile); err != nil {
		if errors.Is(err, content.ErrInvalidProfile) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, content.ErrProfileExists) {
			writeConflict(w, "an audience profile with that slug already exists")
			return
		}
		writeInternalError(w, "failed to create audience profile")
		return
	}

	s.auditLog("create", "audience_profile", profile.ID, map[string]any{"slug": profile.Slug})
	writeJSON(w, http.StatusCreated, profile)
}

// handleUpdateAudience partially updates an audience profile.
func (s *Server) handleUpdateAudience(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.content.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrProfileNotFound) {
			writeNotFound(w, "audience profile not found")
			return
		}
		writeInternalError(w, "failed to get audience profile")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if err := s.content.UpdateProfile(r.Context(), existing); err != nil {
		if errors.Is(err, content.ErrInvalidProfile) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update audience profile")
		return
	}

	s.auditLog("update", "audience_profile", id, nil)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteAudience removes an audience profile.
func (s *Server) handleDeleteAudience(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.content.DeleteProfile(r.Context(), id); err != nil {
		if errors.Is(err, content.ErrProfileNotFound) {
			writeNotFound(w, "audience profile not found")
			return
		}
		writeInternalError(w, "failed to delete audience profile")
		return
	}

	s.auditLog("delete", "audience_profile", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
