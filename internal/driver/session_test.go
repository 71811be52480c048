package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/carousel-core/internal/device"
	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
)

// fakeAgent is a minimal in-process automation agent.
type fakeAgent struct {
	sessions atomic.Int64
	uploads  atomic.Int64
	failOpen atomic.Bool
}

func (a *fakeAgent) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
			if a.failOpen.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"code":"device_disconnected","message":"not listed"}`)) //nolint:errcheck
				return
			}
			n := a.sessions.Add(1)
			fmt.Fprintf(w, `{"session_id":"sess-%d"}`, n)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/sessions/"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/upload"):
			n := a.uploads.Add(1)
			fmt.Fprintf(w, `{"handle":"post-%d"}`, n)
		case strings.HasSuffix(r.URL.Path, "/delete"):
			w.Write([]byte(`{}`)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	})
}

func testDevice() *device.Device {
	return &device.Device{ID: "dev-1", UDID: "00008110-000A", Platform: device.PlatformIOS}
}

func newTestManager(t *testing.T) (*SessionManager, *fakeAgent) {
	t.Helper()
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent.handler())
	t.Cleanup(srv.Close)

	client := NewClient(config.DriverConfig{
		Endpoint:       srv.URL,
		SessionTimeout: 2 * time.Second,
		CommandTimeout: 2 * time.Second,
	})
	return NewSessionManager(client, nil), agent
}

func TestSessionManager_Exclusive(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	dev := testDevice()

	first, err := mgr.Acquire(ctx, dev, "creator_one")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !mgr.Busy(dev.ID) {
		t.Error("device not reported busy while held")
	}

	// A second acquire for the same phone waits; with a short deadline
	// it gives up.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := mgr.Acquire(shortCtx, dev, "creator_two"); err == nil {
		t.Fatal("second acquire succeeded while device held")
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mgr.Busy(dev.ID) {
		t.Error("device still busy after release")
	}

	second, err := mgr.Acquire(ctx, dev, "creator_two")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestSessionManager_ManyContendersOneDevice(t *testing.T) {
	mgr, agent := newTestManager(t)
	dev := testDevice()

	const contenders = 8
	var holders atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			session, err := mgr.Acquire(context.Background(), dev, fmt.Sprintf("creator_%d", n))
			if err != nil {
				t.Errorf("contender %d acquire: %v", n, err)
				return
			}
			if held := holders.Add(1); held > 1 {
				t.Errorf("contender %d: %d sessions hold the device at once", n, held)
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)

			if err := session.Release(); err != nil {
				t.Errorf("contender %d release: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if mgr.Busy(dev.ID) {
		t.Error("device still busy after all contenders released")
	}
	if got := agent.sessions.Load(); got != contenders {
		t.Errorf("agent sessions opened = %d, want %d", got, contenders)
	}
}

func TestSessionManager_DifferentDevicesDontBlock(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	a, err := mgr.Acquire(ctx, testDevice(), "creator_one")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer a.Release() //nolint:errcheck

	other := &device.Device{ID: "dev-2", UDID: "00008110-000B", Platform: device.PlatformIOS}
	b, err := mgr.Acquire(ctx, other, "creator_two")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	defer b.Release() //nolint:errcheck
}

func TestSessionManager_OpenFailureFreesLock(t *testing.T) {
	mgr, agent := newTestManager(t)
	ctx := context.Background()
	dev := testDevice()

	agent.failOpen.Store(true)
	if _, err := mgr.Acquire(ctx, dev, "creator_one"); err == nil {
		t.Fatal("acquire succeeded against a failing agent")
	}
	if mgr.Busy(dev.ID) {
		t.Fatal("device lock leaked after failed open")
	}

	// Once the agent recovers the device is immediately usable.
	agent.failOpen.Store(false)
	session, err := mgr.Acquire(ctx, dev, "creator_one")
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	if err := session.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestSession_ReleaseIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.Acquire(context.Background(), testDevice(), "creator_one")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := session.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := session.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if !session.Released() {
		t.Error("session not marked released")
	}
}

func TestExecutor_RejectsReleasedSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.Acquire(context.Background(), testDevice(), "creator_one")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := session.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	exec := NewExecutor(mgr.client, nil)
	if _, err := exec.Upload(context.Background(), session, "/m.mp4", "c"); err != ErrSessionReleased {
		t.Errorf("upload = %v, want ErrSessionReleased", err)
	}
	if err := exec.Delete(context.Background(), session, "post-1"); err != ErrSessionReleased {
		t.Errorf("delete = %v, want ErrSessionReleased", err)
	}
}

func TestRuntime_BoundSession(t *testing.T) {
	mgr, agent := newTestManager(t)
	runtime := NewRuntime(mgr, NewExecutor(mgr.client, nil))
	ctx := context.Background()

	bound, err := runtime.Acquire(ctx, testDevice(), "creator_one")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	handle, err := bound.Upload(ctx, "/media/loop.mp4", "caption")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if handle != "post-1" {
		t.Errorf("handle = %s, want post-1", handle)
	}
	if err := bound.Delete(ctx, handle); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := bound.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if agent.uploads.Load() != 1 {
		t.Errorf("agent uploads = %d, want 1", agent.uploads.Load())
	}
}
