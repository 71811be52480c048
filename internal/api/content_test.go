package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/nerrad567/carousel-core/internal/content"
)

func TestCreateAudience(t *testing.T) {
	env := testServer(t)

	body := `{"name": "Dating UK", "theme": "dating", "fallback_hashtags": ["#dating", "#single"]}`
	w := env.doJSON(t, http.MethodPost, "/api/v1/content/audiences/", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created content.AudienceProfile
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" {
		t.Error("expected profile ID to be auto-generated")
	}
	if created.Slug != "dating-uk" {
		t.Errorf("slug = %q, want dating-uk", created.Slug)
	}
}

func TestCreateAudience_DuplicateSlug(t *testing.T) {
	env := testServer(t)
	env.seedContent(t)

	body := `{"name": "Dating"}`
	w := env.doJSON(t, http.MethodPost, "/api/v1/content/audiences/", body)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestCreateAudience_MissingName(t *testing.T) {
	env := testServer(t)

	w := env.doJSON(t, http.MethodPost, "/api/v1/content/audiences/", `{"theme": "dating"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestUpdateAudience(t *testing.T) {
	env := testServer(t)
	profile, _ := env.seedContent(t)

	body := `{"theme": "relationships"}`
	w := env.doJSON(t, http.MethodPatch, "/api/v1/content/audiences/"+profile.ID, body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var updated content.AudienceProfile
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Theme != "relationships" {
		t.Errorf("theme = %q, want relationships", updated.Theme)
	}
	if updated.Slug != profile.Slug {
		t.Errorf("slug = %q changed by partial update", updated.Slug)
	}
}

func TestCreateContentItem(t *testing.T) {
	env := testServer(t)
	profile, _ := env.seedContent(t)

	body := fmt.Sprintf(`{"name": "coffee date", "media_path": "/media/coffee.mp4", "audience_id": %q}`, profile.ID)
	w := env.doJSON(t, http.MethodPost, "/api/v1/content/items/", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created content.Item
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" {
		t.Error("expected item ID to be auto-generated")
	}
}

func TestCreateContentItem_UnknownAudience(t *testing.T) {
	env := testServer(t)

	body := `{"name": "orphan", "media_path": "/media/orphan.mp4", "audience_id": "aud-ghost"}`
	w := env.doJSON(t, http.MethodPost, "/api/v1/content/items/", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestListContentItems_ByAudience(t *testing.T) {
	env := testServer(t)
	profile, _ := env.seedContent(t)

	w := env.doJSON(t, http.MethodGet, "/api/v1/content/items/?audience_id="+profile.ID, "")
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}

	w = env.doJSON(t, http.MethodGet, "/api/v1/content/items/?audience_id=aud-other", "")
	resp = decodeBody(t, w)
	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count for other audience = %v, want 0", resp["count"])
	}
}

func TestDeleteContentItem(t *testing.T) {
	env := testServer(t)
	_, item := env.seedContent(t)

	w := env.doJSON(t, http.MethodDelete, "/api/v1/content/items/"+item.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = env.doJSON(t, http.MethodGet, "/api/v1/content/items/"+item.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
