package driver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
)

func testClient(url string) *Client {
	return NewClient(config.DriverConfig{
		Endpoint:       url,
		SessionTimeout: 2 * time.Second,
		CommandTimeout: 2 * time.Second,
	})
}

func TestClient_OpenSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"sess-1"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).OpenSession(context.Background(), "00008110", "ios", "creator")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if id != "sess-1" {
		t.Errorf("session id = %s, want sess-1", id)
	}
}

func TestClient_OpenSessionEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).OpenSession(context.Background(), "00008110", "ios", "creator")
	f, ok := AsFailure(err)
	if !ok || f.Code != CodeTransient {
		t.Fatalf("error = %v, want transient failure", err)
	}
}

func TestClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/sess-1/upload" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"handle":"post-77"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	handle, err := testClient(srv.URL).Upload(context.Background(), "sess-1", "/media/loop.mp4", "caption")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if handle != "post-77" {
		t.Errorf("handle = %s, want post-77", handle)
	}
}

func TestClient_UploadEmptyHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Upload(context.Background(), "sess-1", "/media/loop.mp4", "caption")
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("error = %v, want failure", err)
	}
	// No handle means the post may or may not exist; never safe to retry.
	if f.Code != CodeUnknownOutcome {
		t.Errorf("code = %s, want %s", f.Code, CodeUnknownOutcome)
	}
}

func TestClient_AgentErrorEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode Code
	}{
		{"element not found", 422, `{"code":"element_not_found","message":"post button missing"}`, CodeElementNotFound},
		{"app crashed", 500, `{"code":"app_crashed","message":"app died"}`, CodeAppCrashed},
		{"device disconnected", 503, `{"code":"device_disconnected","message":"usb gone"}`, CodeDeviceDisconnected},
		{"unstructured error", 500, `internal server error`, CodeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).Upload(context.Background(), "sess-1", "/m.mp4", "c")
			f, ok := AsFailure(err)
			if !ok {
				t.Fatalf("error = %v, want failure", err)
			}
			if f.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", f.Code, tt.wantCode)
			}
		})
	}
}

func TestClient_TimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(config.DriverConfig{
		Endpoint:       srv.URL,
		SessionTimeout: 50 * time.Millisecond,
		CommandTimeout: 50 * time.Millisecond,
	})

	// A timed-out upload may have landed: unknown outcome.
	_, err := c.Upload(context.Background(), "sess-1", "/m.mp4", "c")
	f, ok := AsFailure(err)
	if !ok || f.Code != CodeUnknownOutcome {
		t.Fatalf("upload timeout = %v, want %s failure", err, CodeUnknownOutcome)
	}

	// A timed-out session open changed nothing observable: plain timeout.
	_, err = c.OpenSession(context.Background(), "00008110", "ios", "creator")
	f, ok = AsFailure(err)
	if !ok || f.Code != CodeTimeout {
		t.Fatalf("open timeout = %v, want %s failure", err, CodeTimeout)
	}
}

func TestClient_DialFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens here any more

	// The request never left, so even a mutating op is safely retryable.
	_, err := testClient(url).Upload(context.Background(), "sess-1", "/m.mp4", "c")
	f, ok := AsFailure(err)
	if !ok || f.Code != CodeTransient {
		t.Fatalf("dial failure = %v, want %s failure", err, CodeTransient)
	}
}

func TestClient_CancelPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches for client disconnect;
		// otherwise r.Context() is never cancelled and Close hangs.
		io.Copy(io.Discard, r.Body) //nolint:errcheck
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := testClient(srv.URL).Upload(ctx, "sess-1", "/m.mp4", "c")
	if _, ok := AsFailure(err); ok {
		t.Fatalf("cancel classified as failure: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestClient_CloseSessionToleratesGoneDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"code":"device_disconnected","message":"usb gone"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	if err := testClient(srv.URL).CloseSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("close session: %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}

	healthy = false
	if err := c.Health(context.Background()); !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("health = %v, want ErrAgentUnavailable", err)
	}
}
