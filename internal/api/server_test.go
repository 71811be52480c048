package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/carousel"
	"github.com/nerrad567/carousel-core/internal/content"
	"github.com/nerrad567/carousel-core/internal/device"
	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
	"github.com/nerrad567/carousel-core/internal/infrastructure/logging"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

// mockRunControl implements RunControl with scriptable results so the
// handlers can be exercised without a live dispatcher.
type mockRunControl struct {
	mu          sync.Mutex
	activateRun *carousel.Run
	activateErr error
	cancelErr   error
	resumeRun   *carousel.Run
	resumeErr   error
	calls       []string
}

func (m *mockRunControl) Activate(_ context.Context, carouselID string) (*carousel.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "activate:"+carouselID)
	if m.activateErr != nil {
		return nil, m.activateErr
	}
	return m.activateRun, nil
}

func (m *mockRunControl) Cancel(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "cancel:"+runID)
	return m.cancelErr
}

func (m *mockRunControl) Resume(_ context.Context, runID string) (*carousel.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "resume:"+runID)
	if m.resumeErr != nil {
		return nil, m.resumeErr
	}
	return m.resumeRun, nil
}

// failingChecker always reports unhealthy, for status degradation tests.
type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error {
	return fmt.Errorf("connection refused")
}

// okChecker always reports healthy.
type okChecker struct{}

func (okChecker) HealthCheck(context.Context) error { return nil }

// ─── Test Helpers ──────────────────────────────────────────────────

// setupTestDB creates an in-memory SQLite database with the full schema
// the API handlers touch.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			udid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT 'ios',
			health_status TEXT NOT NULL DEFAULT 'unknown',
			health_last_seen TEXT,
			notes TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT,
			device_id TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			uploads_today INTEGER NOT NULL DEFAULT 0,
			uploads_total INTEGER NOT NULL DEFAULT 0,
			notes TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE audience_profiles (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			fallback_caption TEXT NOT NULL DEFAULT '',
			fallback_hashtags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE content_items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			media_path TEXT NOT NULL,
			audience_id TEXT NOT NULL,
			caption_template TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE carousels (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			content_item_id TEXT NOT NULL,
			items_per_cycle INTEGER NOT NULL,
			wait_min_minutes INTEGER NOT NULL,
			wait_max_minutes INTEGER NOT NULL,
			cycle_limit INTEGER,
			auto_restart INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE carousel_runs (
			id TEXT PRIMARY KEY,
			carousel_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			error_phase TEXT,
			cycle INTEGER NOT NULL DEFAULT 0,
			wake_at TEXT,
			last_error TEXT,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			cleanup_needed INTEGER NOT NULL DEFAULT 0,
			last_transition_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT
		);

		CREATE TABLE run_items (
			run_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			position INTEGER NOT NULL,
			uploaded_at TEXT NOT NULL,
			needs_reconciliation INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, handle)
		);

		CREATE TABLE run_events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	return db
}

// testEnv bundles the server, its repositories, and the run control mock.
type testEnv struct {
	srv       *Server
	router    http.Handler
	devices   device.Repository
	accounts  account.Repository
	content   content.Repository
	carousels carousel.Repository
	runs      *mockRunControl
}

// testServer creates a Server wired to real SQLite-backed repositories
// and a mock run control.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	env := &testEnv{
		devices:   device.NewSQLiteRepository(db),
		accounts:  account.NewSQLiteRepository(db),
		content:   content.NewSQLiteRepository(db),
		carousels: carousel.NewSQLiteRepository(db),
		runs:      &mockRunControl{},
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Defaults: config.CarouselDefaults{
			ItemsPerCycle:  6,
			WaitMinMinutes: 40,
			WaitMaxMinutes: 60,
		},
		Logger:    log,
		Devices:   env.devices,
		Accounts:  env.accounts,
		Content:   env.content,
		Carousels: env.carousels,
		Runs:      env.runs,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

// doJSON performs a request against the test router and returns the recorder.
func (e *testEnv) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decodeBody unmarshals a JSON response body into a generic map.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v; body: %s", err, w.Body.String())
	}
	return resp
}

// seedDevice inserts a device through the repository.
func (e *testEnv) seedDevice(t *testing.T, udid string) *device.Device {
	t.Helper()

	d := &device.Device{UDID: udid, Name: "rack-phone", Platform: device.PlatformIOS}
	if err := e.devices.Create(context.Background(), d); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	return d
}

// seedAccount inserts an account bound to the given device.
func (e *testEnv) seedAccount(t *testing.T, username, deviceID string) *account.Account {
	t.Helper()

	a := &account.Account{Username: username, DeviceID: deviceID, Active: true}
	if err := e.accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	return a
}

// seedContent inserts an audience profile and one item belonging to it.
func (e *testEnv) seedContent(t *testing.T) (*content.AudienceProfile, *content.Item) {
	t.Helper()

	profile := &content.AudienceProfile{
		Name:             "Dating",
		Theme:            "dating",
		FallbackHashtags: []string{"#dating", "#single"},
	}
	if err := e.content.CreateProfile(context.Background(), profile); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}

	item := &content.Item{
		Name:       "beach walk",
		MediaPath:  "/media/beach.mp4",
		AudienceID: profile.ID,
	}
	if err := e.content.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("seeding item: %v", err)
	}
	return profile, item
}

// ─── Server Tests ──────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)

	w := env.doJSON(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := testServer(t)

	// Client-supplied ID is echoed back.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "trace-me" {
		t.Errorf("X-Request-ID = %q, want %q", got, "trace-me")
	}

	// Otherwise one is generated.
	w = env.doJSON(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := testServer(t)

	w := env.doJSON(t, http.MethodGet, "/api/v1/devices/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("envelope status = %d, want %d", apiErr.Status, http.StatusNotFound)
	}
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("envelope code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
	if apiErr.Message == "" {
		t.Error("envelope message is empty")
	}
}

func TestNewRequiresCoreDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if _, err := New(Deps{}); err == nil {
		t.Error("expected error when logger missing")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("expected error when carousel repository missing")
	}
	if _, err := New(Deps{Logger: log, Carousels: carousel.NewSQLiteRepository(nil)}); err == nil {
		t.Error("expected error when run control missing")
	}
}

func TestSystemStatus(t *testing.T) {
	env := testServer(t)
	env.srv.checks = map[string]HealthChecker{
		"database": okChecker{},
	}

	dev := env.seedDevice(t, "00008110-000A")
	env.seedAccount(t, "creator_one", dev.ID)
	env.seedContent(t)

	w := env.doJSON(t, http.MethodGet, "/api/v1/system/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}

	counts, ok := resp["counts"].(map[string]any)
	if !ok {
		t.Fatalf("counts missing from response: %v", resp)
	}
	if int(counts["devices"].(float64)) != 1 {
		t.Errorf("devices count = %v, want 1", counts["devices"])
	}
	if int(counts["accounts_active"].(float64)) != 1 {
		t.Errorf("accounts_active = %v, want 1", counts["accounts_active"])
	}
	if int(counts["content_items"].(float64)) != 1 {
		t.Errorf("content_items = %v, want 1", counts["content_items"])
	}

	components, ok := resp["components"].(map[string]any)
	if !ok {
		t.Fatalf("components missing from response: %v", resp)
	}
	if components["database"] != "ok" {
		t.Errorf("database component = %v, want ok", components["database"])
	}
}

func TestSystemStatus_Degraded(t *testing.T) {
	env := testServer(t)
	env.srv.checks = map[string]HealthChecker{
		"mqtt": failingChecker{},
	}

	w := env.doJSON(t, http.MethodGet, "/api/v1/system/status", "")
	resp := decodeBody(t, w)

	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	components := resp["components"].(map[string]any)
	if components["mqtt"] == "ok" {
		t.Error("expected mqtt component to report its error")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices/", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}
