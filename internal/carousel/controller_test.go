package carousel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/caption"
	"github.com/nerrad567/carousel-core/internal/content"
	"github.com/nerrad567/carousel-core/internal/device"
	"github.com/nerrad567/carousel-core/internal/driver"
)

// mockRepo is an in-memory Repository for controller tests.
type mockRepo struct {
	mu        sync.Mutex
	carousels map[string]*Carousel
	runs      map[string]*Run
	events    []RunEvent
	nextRunID int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		carousels: make(map[string]*Carousel),
		runs:      make(map[string]*Run),
	}
}

func (m *mockRepo) GetCarousel(_ context.Context, id string) (*Carousel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carousels[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrCarouselNotFound
}

func (m *mockRepo) ListCarousels(_ context.Context) ([]Carousel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Carousel, 0, len(m.carousels))
	for _, c := range m.carousels {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockRepo) ListCarouselsByAccount(_ context.Context, accountID string) ([]Carousel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Carousel
	for _, c := range m.carousels {
		if c.AccountID == accountID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateCarousel(_ context.Context, c *Carousel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = GenerateID()
	}
	cp := *c
	m.carousels[c.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateCarousel(_ context.Context, c *Carousel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carousels[c.ID]; !ok {
		return ErrCarouselNotFound
	}
	cp := *c
	m.carousels[c.ID] = &cp
	return nil
}

func (m *mockRepo) DeleteCarousel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carousels[id]; !ok {
		return ErrCarouselNotFound
	}
	delete(m.carousels, id)
	return nil
}

func (m *mockRepo) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		m.nextRunID++
		run.ID = fmt.Sprintf("run-%d", m.nextRunID)
	}
	if run.Phase == "" {
		run.Phase = PhaseIdle
	}
	run.CreatedAt = time.Now().UTC()
	cp := copyRun(run)
	m.runs[run.ID] = cp
	return nil
}

func (m *mockRepo) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[id]; ok {
		return copyRun(r), nil
	}
	return nil, ErrRunNotFound
}

func (m *mockRepo) ListRuns(_ context.Context, filter RunFilter) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		if filter.CarouselID != "" && r.CarouselID != filter.CarouselID {
			continue
		}
		if filter.Phase != "" && r.Phase != filter.Phase {
			continue
		}
		out = append(out, *copyRun(r))
	}
	return out, nil
}

func (m *mockRepo) LoadActiveRuns(_ context.Context) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		if !r.Phase.Terminal() {
			out = append(out, *copyRun(r))
		}
	}
	return out, nil
}

func (m *mockRepo) ActiveRunForCarousel(_ context.Context, carouselID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		// Error runs count as active here, matching SQLiteRepository:
		// they hold live items a second run must not race.
		if r.CarouselID == carouselID && r.Phase != PhaseTerminated {
			return copyRun(r), nil
		}
	}
	return nil, nil
}

func (m *mockRepo) SetPhase(_ context.Context, runID string, phase Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.Phase = phase
	r.WakeAt = nil
	r.LastTransitionAt = time.Now().UTC()
	return nil
}

func (m *mockRepo) SetWake(_ context.Context, runID string, wakeAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.Phase = PhaseLiveWaiting
	r.WakeAt = &wakeAt
	r.LastTransitionAt = time.Now().UTC()
	return nil
}

func (m *mockRepo) SetCycle(_ context.Context, runID string, cycle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.Cycle = cycle
	return nil
}

func (m *mockRepo) SetError(_ context.Context, runID string, failedPhase Phase, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.Phase = PhaseError
	r.ErrorPhase = &failedPhase
	r.LastError = &message
	r.LastTransitionAt = time.Now().UTC()
	return nil
}

func (m *mockRepo) CompleteRun(_ context.Context, runID string, cleanupNeeded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	now := time.Now().UTC()
	r.Phase = PhaseTerminated
	r.CleanupNeeded = cleanupNeeded
	r.CompletedAt = &now
	r.LastTransitionAt = now
	return nil
}

func (m *mockRepo) ResumeRun(_ context.Context, runID string, phase Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.Phase = phase
	r.ErrorPhase = nil
	r.LastError = nil
	r.CancelRequested = false
	for i := range r.LiveItems {
		r.LiveItems[i].NeedsReconciliation = false
	}
	r.LastTransitionAt = time.Now().UTC()
	return nil
}

func (m *mockRepo) RequestCancel(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.CancelRequested = true
	return nil
}

func (m *mockRepo) AppendItem(_ context.Context, runID string, item LiveItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	r.LiveItems = append(r.LiveItems, item)
	return nil
}

func (m *mockRepo) RemoveItem(_ context.Context, runID, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	for i, item := range r.LiveItems {
		if item.Handle == handle {
			r.LiveItems = append(r.LiveItems[:i], r.LiveItems[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("item %s not found", handle)
}

func (m *mockRepo) MarkItemReconciliation(_ context.Context, runID, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	for i := range r.LiveItems {
		if r.LiveItems[i].Handle == handle {
			r.LiveItems[i].NeedsReconciliation = true
			return nil
		}
	}
	return fmt.Errorf("item %s not found", handle)
}

func (m *mockRepo) AppendEvent(_ context.Context, event *RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockRepo) ListEvents(_ context.Context, runID string, limit int) ([]RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunEvent
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) eventMessages(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e.Message)
		}
	}
	return out
}

func copyRun(r *Run) *Run {
	cp := *r
	cp.LiveItems = append([]LiveItem(nil), r.LiveItems...)
	return &cp
}

// mockAccounts implements Accounts.
type mockAccounts struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
	uploads  int
}

func (m *mockAccounts) GetByID(_ context.Context, id string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, account.ErrAccountNotFound
}

func (m *mockAccounts) IncrementUploads(_ context.Context, _ string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads += n
	return nil
}

// mockDevices implements Devices.
type mockDevices struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	health  map[string]device.HealthStatus
}

func (m *mockDevices) GetByID(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, device.ErrDeviceNotFound
}

func (m *mockDevices) UpdateHealth(_ context.Context, id string, status device.HealthStatus, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health == nil {
		m.health = make(map[string]device.HealthStatus)
	}
	m.health[id] = status
	return nil
}

func (m *mockDevices) healthOf(id string) device.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health[id]
}

// mockCatalog implements Catalog.
type mockCatalog struct {
	items    map[string]*content.Item
	profiles map[string]*content.AudienceProfile
}

func (m *mockCatalog) GetItem(_ context.Context, id string) (*content.Item, error) {
	if i, ok := m.items[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, content.ErrItemNotFound
}

func (m *mockCatalog) GetProfile(_ context.Context, id string) (*content.AudienceProfile, error) {
	if p, ok := m.profiles[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, content.ErrProfileNotFound
}

// mockSession implements Session with scriptable failures.
type mockSession struct {
	mu       sync.Mutex
	uploads  int
	deletes  []string
	released bool

	// uploadErrs is consumed one per attempt; nil entries succeed.
	uploadErrs []error
	// deleteErrs is consumed one per attempt; nil entries succeed.
	deleteErrs []error
	// onUpload runs after each successful upload, outside the lock.
	onUpload func(n int)
}

func (s *mockSession) Upload(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	if len(s.uploadErrs) > 0 {
		err := s.uploadErrs[0]
		s.uploadErrs = s.uploadErrs[1:]
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
	}
	s.uploads++
	n := s.uploads
	hook := s.onUpload
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return fmt.Sprintf("post-%d", n), nil
}

func (s *mockSession) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deleteErrs) > 0 {
		err := s.deleteErrs[0]
		s.deleteErrs = s.deleteErrs[1:]
		if err != nil {
			return err
		}
	}
	s.deletes = append(s.deletes, handle)
	return nil
}

func (s *mockSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

// mockDriver implements Driver.
type mockDriver struct {
	session    *mockSession
	acquireErr error
	acquires   int
}

func (d *mockDriver) Acquire(_ context.Context, _ *device.Device, _ string) (Session, error) {
	d.acquires++
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	return d.session, nil
}

// mockComposer implements CaptionComposer.
type mockComposer struct {
	calls int
}

func (m *mockComposer) Compose(_ context.Context, item *content.Item, profile *content.AudienceProfile, _ []string) (*caption.Result, error) {
	m.calls++
	return &caption.Result{
		Text:     profile.FallbackCaption,
		Hashtags: profile.FallbackHashtags,
		Source:   caption.SourceFallback,
	}, nil
}

// fakeClock is a manually advanced Clock. Sleep advances time instead of
// blocking so retry backoff tests run instantly.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureReporter records telemetry calls.
type captureReporter struct {
	mu      sync.Mutex
	phases  []Phase
	dwells  []float64
	outcome []string
	health  []string
}

func (r *captureReporter) RunPhase(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, run.Phase)
}

func (r *captureReporter) RunEvent(string, Phase, string) {}

func (r *captureReporter) ItemOutcome(_, _, action, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = append(r.outcome, action+":"+outcome)
}

func (r *captureReporter) DwellSample(_, _ string, minutes float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dwells = append(r.dwells, minutes)
}

func (r *captureReporter) DeviceHealth(deviceID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = append(r.health, deviceID+":"+status)
}

// fixture wires a controller with all mocks and one carousel ready to run.
type fixture struct {
	repo     *mockRepo
	accounts *mockAccounts
	devices  *mockDevices
	driver   *mockDriver
	session  *mockSession
	clock    *fakeClock
	reporter *captureReporter
	ctrl     *Controller
	carousel *Carousel
	run      *Run
}

func newFixture(t *testing.T, randVal float64) *fixture {
	t.Helper()

	repo := newMockRepo()
	session := &mockSession{}
	drv := &mockDriver{session: session}
	clock := newFakeClock()
	reporter := &captureReporter{}

	accounts := &mockAccounts{accounts: map[string]*account.Account{
		"acct-1": {ID: "acct-1", Username: "creator_one", DeviceID: "dev-1", Active: true},
	}}
	devices := &mockDevices{devices: map[string]*device.Device{
		"dev-1": {ID: "dev-1", UDID: "00008110-000A", Name: "rack-phone-1", Platform: device.PlatformIOS},
	}}
	catalog := &mockCatalog{
		items: map[string]*content.Item{
			"item-1": {ID: "item-1", Name: "loop", MediaPath: "/media/loop.mp4", AudienceID: "aud-1"},
		},
		profiles: map[string]*content.AudienceProfile{
			"aud-1": {ID: "aud-1", Slug: "fitness", Name: "Fitness", FallbackCaption: "daily grind", FallbackHashtags: []string{"#fit"}},
		},
	}

	limit := 1
	car := &Carousel{
		ID:             "car-1",
		AccountID:      "acct-1",
		ContentItemID:  "item-1",
		ItemsPerCycle:  3,
		WaitMinMinutes: 40,
		WaitMaxMinutes: 60,
		CycleLimit:     &limit,
		AutoRestart:    true,
	}
	if err := repo.CreateCarousel(context.Background(), car); err != nil {
		t.Fatalf("creating carousel: %v", err)
	}

	run := &Run{CarouselID: car.ID, AccountID: car.AccountID}
	if err := repo.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	ctrl := NewController(ControllerDeps{
		Repo:     repo,
		Accounts: accounts,
		Devices:  devices,
		Catalog:  catalog,
		Driver:   drv,
		Captions: &mockComposer{},
		Retry:    RetryPolicy{MaxRetries: 2, Backoff: time.Second},
		Reporter: reporter,
		Clock:    clock,
		Rand:     func() float64 { return randVal },
	})

	return &fixture{
		repo: repo, accounts: accounts, devices: devices,
		driver: drv, session: session, clock: clock, reporter: reporter,
		ctrl: ctrl, carousel: car, run: run,
	}
}

func (f *fixture) getRun(t *testing.T) *Run {
	t.Helper()
	run, err := f.repo.GetRun(context.Background(), f.run.ID)
	if err != nil {
		t.Fatalf("loading run: %v", err)
	}
	return run
}

func TestController_FullCycle(t *testing.T) {
	f := newFixture(t, 0.5)
	ctx := context.Background()

	// First tick: idle -> uploading -> all items live -> parked waiting.
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseLiveWaiting {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseLiveWaiting)
	}
	if len(run.LiveItems) != 3 {
		t.Fatalf("live items = %d, want 3", len(run.LiveItems))
	}
	if f.session.uploads != 3 {
		t.Errorf("uploads = %d, want 3", f.session.uploads)
	}
	if !f.session.released {
		t.Error("session not released after upload batch")
	}
	if run.WakeAt == nil {
		t.Fatal("wake time not set")
	}

	// rand 0.5 over [40, 60] samples exactly 50 minutes.
	wantWake := f.clock.Now().Add(50 * time.Minute)
	if !run.WakeAt.Equal(wantWake) {
		t.Errorf("wake at %v, want %v", run.WakeAt, wantWake)
	}

	// Ticking again before the wake time is a no-op.
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("early tick: %v", err)
	}
	if got := f.getRun(t); got.Phase != PhaseLiveWaiting {
		t.Fatalf("phase after early tick = %s, want %s", got.Phase, PhaseLiveWaiting)
	}

	// Past the wake time: deletes run, cycle closes, limit of 1 ends the run.
	f.clock.Advance(51 * time.Minute)
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	run = f.getRun(t)
	if run.Phase != PhaseTerminated {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseTerminated)
	}
	if run.Cycle != 1 {
		t.Errorf("cycle = %d, want 1", run.Cycle)
	}
	if run.CleanupNeeded {
		t.Error("cleanup flagged on a clean termination")
	}
	if len(run.LiveItems) != 0 {
		t.Errorf("live items after delete = %d, want 0", len(run.LiveItems))
	}
	if len(f.session.deletes) != 3 {
		t.Errorf("deletes = %d, want 3", len(f.session.deletes))
	}
	// Oldest first.
	if f.session.deletes[0] != "post-1" {
		t.Errorf("first delete = %s, want post-1", f.session.deletes[0])
	}
	if run.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
}

func TestController_AutoRestartLoops(t *testing.T) {
	f := newFixture(t, 0.0)
	f.carousel.CycleLimit = nil
	if err := f.repo.UpdateCarousel(context.Background(), f.carousel); err != nil {
		t.Fatalf("updating carousel: %v", err)
	}
	ctx := context.Background()

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	f.clock.Advance(41 * time.Minute)

	// One tick carries the run through deleting, cycle_done, and the
	// next cycle's uploads before parking it waiting again.
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseLiveWaiting {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseLiveWaiting)
	}
	if run.Cycle != 1 {
		t.Errorf("cycle = %d, want 1", run.Cycle)
	}
	if f.session.uploads != 6 {
		t.Errorf("uploads = %d, want 6 (two cycles)", f.session.uploads)
	}
}

func TestController_AutoRestartDisabled(t *testing.T) {
	f := newFixture(t, 0.0)
	f.carousel.CycleLimit = nil
	f.carousel.AutoRestart = false
	if err := f.repo.UpdateCarousel(context.Background(), f.carousel); err != nil {
		t.Fatalf("updating carousel: %v", err)
	}
	ctx := context.Background()

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	f.clock.Advance(41 * time.Minute)
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if run := f.getRun(t); run.Phase != PhaseTerminated {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseTerminated)
	}
}

func TestController_DwellBounds(t *testing.T) {
	tests := []struct {
		name    string
		randVal float64
		want    time.Duration // zero means bounds-only check
	}{
		{"floor", 0.0, 40 * time.Minute},
		{"midpoint", 0.5, 50 * time.Minute},
		{"near ceiling", 0.99, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.randVal)
			if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
				t.Fatalf("tick: %v", err)
			}

			run := f.getRun(t)
			if run.WakeAt == nil {
				t.Fatal("wake time not set")
			}
			got := run.WakeAt.Sub(f.clock.Now())
			if tt.want != 0 && got != tt.want {
				t.Errorf("dwell = %v, want %v", got, tt.want)
			}
			if got < 40*time.Minute || got > 60*time.Minute {
				t.Errorf("dwell %v outside configured window", got)
			}
		})
	}
}

func TestController_RetryThenSuccess(t *testing.T) {
	f := newFixture(t, 0.0)
	transient := &driver.Failure{Code: driver.CodeTransient, Op: "upload", Message: "agent hiccup"}
	f.session.uploadErrs = []error{transient, transient} // first item needs three attempts

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseLiveWaiting {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseLiveWaiting)
	}
	if len(run.LiveItems) != 3 {
		t.Errorf("live items = %d, want 3", len(run.LiveItems))
	}

	// Backoff doubles per attempt: 1s then 2s.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(f.clock.slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", f.clock.slept, want)
	}
	for i, d := range want {
		if f.clock.slept[i] != d {
			t.Errorf("sleep[%d] = %v, want %v", i, f.clock.slept[i], d)
		}
	}
}

func TestController_RetryExhaustionParksRun(t *testing.T) {
	f := newFixture(t, 0.0)
	transient := &driver.Failure{Code: driver.CodeTransient, Op: "upload", Message: "agent hiccup"}
	// First item lands; the second fails every attempt (1 + 2 retries).
	f.session.uploadErrs = []error{nil, transient, transient, transient}

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseError {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseError)
	}
	if run.ErrorPhase == nil || *run.ErrorPhase != PhaseUploading {
		t.Fatalf("error phase = %v, want %s", run.ErrorPhase, PhaseUploading)
	}
	if run.LastError == nil || !strings.Contains(*run.LastError, "transient") {
		t.Errorf("last error = %v, want transient failure message", run.LastError)
	}
	// The successful upload survives the failure.
	if len(run.LiveItems) != 1 {
		t.Errorf("live items = %d, want 1", len(run.LiveItems))
	}
	if len(f.session.deletes) != 0 {
		t.Errorf("deletes = %d, want 0 (no cleanup on error)", len(f.session.deletes))
	}
}

func TestController_NonRetryableFailure(t *testing.T) {
	f := newFixture(t, 0.0)
	gone := &driver.Failure{Code: driver.CodeDeviceDisconnected, Op: "upload", Message: "device dropped"}
	f.session.uploadErrs = []error{gone}

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseError {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseError)
	}
	if len(f.clock.slept) != 0 {
		t.Errorf("slept %v, want no retries for a disconnect", f.clock.slept)
	}
	if got := f.devices.healthOf("dev-1"); got != device.HealthUnreachable {
		t.Errorf("device health = %s, want %s", got, device.HealthUnreachable)
	}
	f.reporter.mu.Lock()
	health := append([]string(nil), f.reporter.health...)
	f.reporter.mu.Unlock()
	if len(health) != 1 || health[0] != "dev-1:unreachable" {
		t.Errorf("health reports = %v, want one dev-1:unreachable", health)
	}
}

func TestController_UnknownDeleteOutcome(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("upload tick: %v", err)
	}
	f.clock.Advance(41 * time.Minute)

	f.session.deleteErrs = []error{
		&driver.Failure{Code: driver.CodeUnknownOutcome, Op: "delete", Message: "response lost"},
	}
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("delete tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseError {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseError)
	}
	// All three items still recorded live; the ambiguous one is flagged.
	if len(run.LiveItems) != 3 {
		t.Fatalf("live items = %d, want 3", len(run.LiveItems))
	}
	if !run.LiveItems[0].NeedsReconciliation {
		t.Error("ambiguous item not flagged for reconciliation")
	}
	if run.LiveItems[1].NeedsReconciliation || run.LiveItems[2].NeedsReconciliation {
		t.Error("untouched items flagged for reconciliation")
	}
}

func TestController_CancelBetweenItems(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	// Operator cancels while the first upload is in flight. The flag
	// lands at the next item boundary, not mid-upload.
	f.session.onUpload = func(n int) {
		if n == 1 {
			if err := f.repo.RequestCancel(ctx, f.run.ID); err != nil {
				t.Errorf("requesting cancel: %v", err)
			}
		}
	}

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseTerminated {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseTerminated)
	}
	if f.session.uploads != 1 {
		t.Errorf("uploads = %d, want 1 (cancel honoured at boundary)", f.session.uploads)
	}
	if !run.CleanupNeeded {
		t.Error("cleanup not flagged despite a live item left behind")
	}
	if len(run.LiveItems) != 1 {
		t.Errorf("live items = %d, want 1", len(run.LiveItems))
	}
}

func TestController_CancelBeforeStart(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	if err := f.repo.RequestCancel(ctx, f.run.ID); err != nil {
		t.Fatalf("requesting cancel: %v", err)
	}
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseTerminated {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseTerminated)
	}
	if run.CleanupNeeded {
		t.Error("cleanup flagged with nothing live")
	}
	if f.session.uploads != 0 {
		t.Errorf("uploads = %d, want 0", f.session.uploads)
	}
}

func TestController_ResumeUploadsOnlyRemaining(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	// Simulate a crash after two uploads: the run sits in uploading with
	// two items already persisted.
	if err := f.repo.SetPhase(ctx, f.run.ID, PhaseUploading); err != nil {
		t.Fatalf("seeding phase: %v", err)
	}
	for i := 1; i <= 2; i++ {
		item := LiveItem{Handle: fmt.Sprintf("old-%d", i), Position: i - 1, UploadedAt: f.clock.Now()}
		if err := f.repo.AppendItem(ctx, f.run.ID, item); err != nil {
			t.Fatalf("seeding item: %v", err)
		}
	}

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseLiveWaiting {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseLiveWaiting)
	}
	if len(run.LiveItems) != 3 {
		t.Fatalf("live items = %d, want 3", len(run.LiveItems))
	}
	if f.session.uploads != 1 {
		t.Errorf("uploads = %d, want 1 (only the missing item)", f.session.uploads)
	}
}

func TestController_CrashBeforeWakeWrite(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	// All items live but the run never reached live_waiting: the wake
	// write was the thing that crashed. The tick just parks it.
	if err := f.repo.SetPhase(ctx, f.run.ID, PhaseUploading); err != nil {
		t.Fatalf("seeding phase: %v", err)
	}
	for i := 1; i <= 3; i++ {
		item := LiveItem{Handle: fmt.Sprintf("old-%d", i), Position: i - 1, UploadedAt: f.clock.Now()}
		if err := f.repo.AppendItem(ctx, f.run.ID, item); err != nil {
			t.Fatalf("seeding item: %v", err)
		}
	}

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseLiveWaiting {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseLiveWaiting)
	}
	if f.session.uploads != 0 {
		t.Errorf("uploads = %d, want 0", f.session.uploads)
	}
	if f.driver.acquires != 0 {
		t.Errorf("acquires = %d, want 0 (no device work needed)", f.driver.acquires)
	}
}

func TestController_NilWakeTreatedAsDue(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("upload tick: %v", err)
	}

	// Clear the wake time directly, as if the write raced a crash.
	f.repo.mu.Lock()
	f.repo.runs[f.run.ID].WakeAt = nil
	f.repo.mu.Unlock()

	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("wake tick: %v", err)
	}
	if run := f.getRun(t); run.Phase != PhaseTerminated {
		// Deletes ran, cycle closed, limit of 1 terminated the run.
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseTerminated)
	}
}

func TestController_InactiveAccount(t *testing.T) {
	f := newFixture(t, 0.0)
	f.accounts.accounts["acct-1"].Active = false

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseError {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseError)
	}
	if run.LastError == nil || !strings.Contains(*run.LastError, "inactive") {
		t.Errorf("last error = %v, want inactive account message", run.LastError)
	}
}

func TestController_MissingCollaborator(t *testing.T) {
	f := newFixture(t, 0.0)
	delete(f.devices.devices, "dev-1")

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if run := f.getRun(t); run.Phase != PhaseError {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseError)
	}
}

func TestController_AcquireFailureParksRun(t *testing.T) {
	f := newFixture(t, 0.0)
	f.driver.acquireErr = &driver.Failure{Code: driver.CodeDeviceDisconnected, Op: "open_session", Message: "not listed"}

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseError {
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseError)
	}
	if got := f.devices.healthOf("dev-1"); got != device.HealthUnreachable {
		t.Errorf("device health = %s, want %s", got, device.HealthUnreachable)
	}
}

func TestController_ShutdownPreservesPhase(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel the context as soon as the first upload lands; the next
	// attempt fails and must propagate instead of parking the run.
	f.session.onUpload = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	f.session.uploadErrs = []error{nil, context.Canceled}

	err := f.ctrl.Tick(ctx, f.run.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("tick error = %v, want context.Canceled", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseUploading {
		t.Fatalf("phase = %s, want %s (kept for crash recovery)", run.Phase, PhaseUploading)
	}
	if len(run.LiveItems) != 1 {
		t.Errorf("live items = %d, want 1", len(run.LiveItems))
	}
}

func TestController_TerminalRunIsNoop(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	if err := f.repo.CompleteRun(ctx, f.run.ID, false); err != nil {
		t.Fatalf("completing run: %v", err)
	}
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.session.uploads != 0 || f.driver.acquires != 0 {
		t.Error("terminal run touched the device")
	}
}

func TestController_EmptyDeleteSetClosesCycle(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	if err := f.repo.SetPhase(ctx, f.run.ID, PhaseDeleting); err != nil {
		t.Fatalf("seeding phase: %v", err)
	}
	if err := f.ctrl.Tick(ctx, f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	run := f.getRun(t)
	if run.Phase != PhaseTerminated {
		// cycle_done followed immediately, and the cycle limit ended the run.
		t.Fatalf("phase = %s, want %s", run.Phase, PhaseTerminated)
	}
	if f.driver.acquires != 0 {
		t.Errorf("acquires = %d, want 0", f.driver.acquires)
	}
}

func TestController_ReportsDwellSample(t *testing.T) {
	f := newFixture(t, 0.5)

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	f.reporter.mu.Lock()
	defer f.reporter.mu.Unlock()
	if len(f.reporter.dwells) != 1 {
		t.Fatalf("dwell samples = %d, want 1", len(f.reporter.dwells))
	}
	if f.reporter.dwells[0] != 50 {
		t.Errorf("dwell sample = %v, want 50", f.reporter.dwells[0])
	}
}

func TestController_EventLogTellsTheStory(t *testing.T) {
	f := newFixture(t, 0.0)

	if err := f.ctrl.Tick(context.Background(), f.run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	messages := f.repo.eventMessages(f.run.ID)
	if len(messages) == 0 {
		t.Fatal("no events recorded")
	}
	var sawUpload, sawDwell bool
	for _, msg := range messages {
		if strings.HasPrefix(msg, "uploaded ") {
			sawUpload = true
		}
		if strings.Contains(msg, "waiting") {
			sawDwell = true
		}
	}
	if !sawUpload || !sawDwell {
		t.Errorf("event log missing upload or dwell entries: %v", messages)
	}
}
