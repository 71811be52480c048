package carousel

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/caption"
	"github.com/nerrad567/carousel-core/internal/content"
	"github.com/nerrad567/carousel-core/internal/device"
	"github.com/nerrad567/carousel-core/internal/driver"
)

// Clock abstracts time for deterministic controller tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// defaultRand is the production dwell sampler.
func defaultRand() float64 { return rand.Float64() }

// realClock is the production Clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logger is the minimal logging interface the controller needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}

// Session is the controller's view of an exclusive device session.
// *driver.BoundSession satisfies it.
type Session interface {
	Upload(ctx context.Context, mediaPath, caption string) (string, error)
	Delete(ctx context.Context, handle string) error
	Release() error
}

// Driver acquires exclusive device sessions. *driver.Runtime implements
// the behaviour; package main wraps it in a small adapter because
// Runtime.Acquire returns the concrete *driver.BoundSession.
type Driver interface {
	Acquire(ctx context.Context, dev *device.Device, username string) (Session, error)
}

// CaptionComposer builds upload captions. *caption.Client satisfies it.
type CaptionComposer interface {
	Compose(ctx context.Context, item *content.Item, profile *content.AudienceProfile, avoid []string) (*caption.Result, error)
}

// Accounts is the slice of account storage the controller needs.
// account.Repository satisfies it.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*account.Account, error)
	IncrementUploads(ctx context.Context, id string, n int) error
}

// Devices is the slice of device storage the controller needs.
// device.Repository satisfies it.
type Devices interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
	UpdateHealth(ctx context.Context, id string, status device.HealthStatus, lastSeen time.Time) error
}

// Catalog is the slice of content storage the controller needs.
// content.Repository satisfies it.
type Catalog interface {
	GetItem(ctx context.Context, id string) (*content.Item, error)
	GetProfile(ctx context.Context, id string) (*content.AudienceProfile, error)
}

// Reporter receives run telemetry as it happens. Implementations fan out
// to MQTT, WebSocket clients, and InfluxDB; all methods must be cheap and
// non-blocking from the controller's point of view.
type Reporter interface {
	RunPhase(run *Run)
	RunEvent(runID string, phase Phase, message string)
	ItemOutcome(runID, deviceID, action, outcome string, duration time.Duration)
	DwellSample(runID, accountID string, minutes float64)
	DeviceHealth(deviceID, status string)
}

// noopReporter discards all telemetry.
type noopReporter struct{}

func (noopReporter) RunPhase(*Run)                                             {}
func (noopReporter) RunEvent(string, Phase, string)                            {}
func (noopReporter) ItemOutcome(string, string, string, string, time.Duration) {}
func (noopReporter) DwellSample(string, string, float64)                       {}
func (noopReporter) DeviceHealth(string, string)                               {}

// RetryPolicy bounds per-item retries for retryable driver failures.
type RetryPolicy struct {
	// MaxRetries is how many times a failed attempt is retried.
	// 3 means up to 4 attempts total.
	MaxRetries int

	// Backoff is the delay before the first retry; doubled per retry.
	Backoff time.Duration
}

// ControllerDeps carries the controller's collaborators.
// Reporter, Clock, Rand, and Logger are optional.
type ControllerDeps struct {
	Repo     Repository
	Accounts Accounts
	Devices  Devices
	Catalog  Catalog
	Driver   Driver
	Captions CaptionComposer
	Retry    RetryPolicy

	Reporter Reporter
	Clock    Clock
	Rand     func() float64 // uniform in [0,1); defaults to math/rand/v2
	Logger   Logger
}

// Controller advances carousel runs through their phases.
//
// Tick is the only entry point: the dispatcher calls it whenever a run is
// due, and Tick performs as much work as the run's state allows before
// returning: a full upload batch, a wake check, a delete batch. All
// durable state lives in the repository; the controller itself is
// stateless, so a crash at any point recovers by re-reading the run.
type Controller struct {
	repo     Repository
	accounts Accounts
	devices  Devices
	catalog  Catalog
	driver   Driver
	captions CaptionComposer
	retry    RetryPolicy

	reporter Reporter
	clock    Clock
	rand     func() float64
	logger   Logger
}

// NewController creates a controller from its dependencies.
func NewController(deps ControllerDeps) *Controller {
	c := &Controller{
		repo:     deps.Repo,
		accounts: deps.Accounts,
		devices:  deps.Devices,
		catalog:  deps.Catalog,
		driver:   deps.Driver,
		captions: deps.Captions,
		retry:    deps.Retry,
		reporter: deps.Reporter,
		clock:    deps.Clock,
		rand:     deps.Rand,
		logger:   deps.Logger,
	}
	if c.reporter == nil {
		c.reporter = noopReporter{}
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.rand == nil {
		c.rand = defaultRand
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.retry.Backoff <= 0 {
		c.retry.Backoff = 2 * time.Second
	}
	return c
}

// Tick advances one run as far as its state allows.
//
// Driver failures are persisted onto the run (error phase) and reported
// as nil: the run is parked for an operator, not broken infrastructure.
// A non-nil return means the tick itself could not complete (repository
// failure, shutdown); the run's persisted state is still consistent and
// a later tick picks up where this one stopped.
func (c *Controller) Tick(ctx context.Context, runID string) error {
	for {
		run, err := c.repo.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("loading run %s: %w", runID, err)
		}

		if run.Phase.Terminal() {
			return nil
		}

		if run.CancelRequested {
			return c.terminate(ctx, run, "cancelled by operator")
		}

		advanced, err := c.step(ctx, run)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// step performs the work of the run's current phase. It returns true
// when the run advanced and Tick should look at it again, false when the
// run reached a state that needs outside input (wake time, operator).
func (c *Controller) step(ctx context.Context, run *Run) (bool, error) {
	switch run.Phase {
	case PhaseIdle:
		return true, c.startCycle(ctx, run)
	case PhaseUploading:
		return true, c.runUploads(ctx, run)
	case PhaseLiveWaiting:
		return c.checkWake(ctx, run)
	case PhaseDeleting:
		return true, c.runDeletes(ctx, run)
	case PhaseCycleDone:
		return true, c.finishCycle(ctx, run)
	default:
		return false, nil
	}
}

// startCycle moves a fresh run into its first uploading phase.
func (c *Controller) startCycle(ctx context.Context, run *Run) error {
	if err := c.transition(ctx, run, PhaseUploading,
		fmt.Sprintf("cycle %d starting", run.Cycle+1)); err != nil {
		return err
	}
	c.logger.Info("run starting", "run_id", run.ID, "carousel_id", run.CarouselID)
	return nil
}

// runUploads uploads the cycle's remaining items, persisting each one
// before moving to the next, then samples the dwell and parks the run in
// live_waiting. Resuming after a crash re-enters here and uploads only
// what the live set is still missing.
func (c *Controller) runUploads(ctx context.Context, run *Run) error {
	car, acct, dev, item, profile, err := c.collaborators(ctx, run)
	if err != nil {
		return c.parkError(ctx, run, PhaseUploading, err.Error())
	}

	if !acct.Active {
		return c.parkError(ctx, run, PhaseUploading,
			fmt.Sprintf("account %s is inactive", acct.Username))
	}

	remaining := car.ItemsPerCycle - len(run.LiveItems)
	if remaining <= 0 {
		// Crash landed between the last upload and the wake write.
		return c.parkDwell(ctx, run, car)
	}

	session, err := c.driver.Acquire(ctx, dev, acct.Username)
	if err != nil {
		return c.handleDriverError(ctx, run, PhaseUploading, dev, err)
	}
	defer session.Release() //nolint:errcheck // logged inside Release

	var avoid []string
	for i := 0; i < remaining; i++ {
		cancelled, err := c.cancelRequested(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return c.terminate(ctx, run, "cancelled by operator")
		}

		composed, err := c.captions.Compose(ctx, item, profile, avoid)
		if err != nil {
			return fmt.Errorf("composing caption: %w", err)
		}
		avoid = composed.Hashtags

		started := c.clock.Now()
		var handle string
		err = c.withRetry(ctx, run, "upload", func() error {
			var uploadErr error
			handle, uploadErr = session.Upload(ctx, item.MediaPath, composed.Text)
			return uploadErr
		})
		if err != nil {
			c.reporter.ItemOutcome(run.ID, dev.ID, "upload", failureCode(err), c.clock.Now().Sub(started))
			return c.handleDriverError(ctx, run, PhaseUploading, dev, err)
		}

		live := LiveItem{
			Handle:     handle,
			Position:   len(run.LiveItems),
			UploadedAt: c.clock.Now().UTC(),
		}
		// Persist before anything observes the new item: if we crash
		// right after the agent confirms, recovery must know the video
		// is live.
		if err := c.repo.AppendItem(ctx, run.ID, live); err != nil {
			return fmt.Errorf("persisting uploaded item: %w", err)
		}
		run.LiveItems = append(run.LiveItems, live)

		if err := c.accounts.IncrementUploads(ctx, run.AccountID, 1); err != nil {
			c.logger.Warn("upload counter update failed", "account_id", run.AccountID, "error", err)
		}

		c.event(ctx, run, fmt.Sprintf("uploaded %d/%d (handle %s)",
			len(run.LiveItems), car.ItemsPerCycle, handle))
		c.reporter.ItemOutcome(run.ID, dev.ID, "upload", "ok", c.clock.Now().Sub(started))
	}

	return c.parkDwell(ctx, run, car)
}

// parkDwell samples the randomized dwell and parks the run in
// live_waiting until the sampled wake time.
func (c *Controller) parkDwell(ctx context.Context, run *Run, car *Carousel) error {
	minutes := float64(car.WaitMinMinutes) +
		c.rand()*float64(car.WaitMaxMinutes-car.WaitMinMinutes)
	wakeAt := c.clock.Now().Add(time.Duration(minutes * float64(time.Minute))).UTC()

	if err := c.repo.SetWake(ctx, run.ID, wakeAt); err != nil {
		return fmt.Errorf("setting wake time: %w", err)
	}
	run.Phase = PhaseLiveWaiting
	run.WakeAt = &wakeAt

	c.event(ctx, run, fmt.Sprintf("all items live, waiting %.1f minutes", minutes))
	c.reporter.RunPhase(run)
	c.reporter.DwellSample(run.ID, run.AccountID, minutes)
	c.logger.Info("run parked for dwell",
		"run_id", run.ID, "minutes", fmt.Sprintf("%.1f", minutes), "wake_at", wakeAt)
	return nil
}

// checkWake moves a live_waiting run into deleting once the wake time
// has passed.
func (c *Controller) checkWake(ctx context.Context, run *Run) (bool, error) {
	// A missing wake time on a waiting run means the wake write was the
	// thing that crashed; treat the run as due now.
	if run.WakeAt != nil && c.clock.Now().Before(*run.WakeAt) {
		return false, nil
	}

	if err := c.transition(ctx, run, PhaseDeleting, "dwell complete, deleting items"); err != nil {
		return false, err
	}
	return true, nil
}

// runDeletes deletes the run's live items oldest-first, persisting each
// removal, then moves the run to cycle_done.
func (c *Controller) runDeletes(ctx context.Context, run *Run) error {
	_, acct, dev, _, _, err := c.collaborators(ctx, run)
	if err != nil {
		return c.parkError(ctx, run, PhaseDeleting, err.Error())
	}

	if len(run.LiveItems) == 0 {
		return c.transition(ctx, run, PhaseCycleDone, "nothing live to delete")
	}

	session, err := c.driver.Acquire(ctx, dev, acct.Username)
	if err != nil {
		return c.handleDriverError(ctx, run, PhaseDeleting, dev, err)
	}
	defer session.Release() //nolint:errcheck // logged inside Release

	items := append([]LiveItem(nil), run.LiveItems...)
	for _, item := range items {
		cancelled, err := c.cancelRequested(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return c.terminate(ctx, run, "cancelled by operator")
		}

		started := c.clock.Now()
		err = c.withRetry(ctx, run, "delete", func() error {
			return session.Delete(ctx, item.Handle)
		})
		if err != nil {
			c.reporter.ItemOutcome(run.ID, dev.ID, "delete", failureCode(err), c.clock.Now().Sub(started))

			if f, ok := driver.AsFailure(err); ok && f.Code == driver.CodeUnknownOutcome {
				// The video may or may not still be live. Keep it in the
				// set, flag it, and park the run: only a human can tell
				// what the account actually shows now.
				if markErr := c.repo.MarkItemReconciliation(ctx, run.ID, item.Handle); markErr != nil {
					return fmt.Errorf("marking item for reconciliation: %w", markErr)
				}
				c.event(ctx, run, fmt.Sprintf("delete outcome unknown for %s, needs reconciliation", item.Handle))
			}
			return c.handleDriverError(ctx, run, PhaseDeleting, dev, err)
		}

		if err := c.repo.RemoveItem(ctx, run.ID, item.Handle); err != nil {
			return fmt.Errorf("persisting item removal: %w", err)
		}
		run.LiveItems = run.LiveItems[1:]

		c.event(ctx, run, fmt.Sprintf("deleted %s, %d still live", item.Handle, len(run.LiveItems)))
		c.reporter.ItemOutcome(run.ID, dev.ID, "delete", "ok", c.clock.Now().Sub(started))
	}

	return c.transition(ctx, run, PhaseCycleDone, "all items deleted")
}

// finishCycle closes out a completed cycle: bump the counter, then either
// terminate (cycle limit, auto-restart off) or start the next cycle.
func (c *Controller) finishCycle(ctx context.Context, run *Run) error {
	car, err := c.repo.GetCarousel(ctx, run.CarouselID)
	if err != nil {
		return fmt.Errorf("loading carousel: %w", err)
	}

	run.Cycle++
	if err := c.repo.SetCycle(ctx, run.ID, run.Cycle); err != nil {
		return fmt.Errorf("persisting cycle counter: %w", err)
	}
	c.event(ctx, run, fmt.Sprintf("cycle %d complete", run.Cycle))

	if car.CycleLimit != nil && run.Cycle >= *car.CycleLimit {
		return c.terminate(ctx, run, fmt.Sprintf("cycle limit %d reached", *car.CycleLimit))
	}
	if !car.AutoRestart {
		return c.terminate(ctx, run, "auto-restart disabled")
	}

	return c.transition(ctx, run, PhaseUploading, fmt.Sprintf("cycle %d starting", run.Cycle+1))
}

// terminate completes a run. Live items left behind (cancel mid-cycle)
// flag the run for manual cleanup.
func (c *Controller) terminate(ctx context.Context, run *Run, reason string) error {
	cleanupNeeded := len(run.LiveItems) > 0

	if err := c.repo.CompleteRun(ctx, run.ID, cleanupNeeded); err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	run.Phase = PhaseTerminated
	run.CleanupNeeded = cleanupNeeded

	msg := "run terminated: " + reason
	if cleanupNeeded {
		msg += fmt.Sprintf(" (%d items still live, cleanup needed)", len(run.LiveItems))
	}
	c.event(ctx, run, msg)
	c.reporter.RunPhase(run)
	c.logger.Info("run terminated", "run_id", run.ID, "reason", reason, "cleanup_needed", cleanupNeeded)
	return nil
}

// parkError moves a run to the error phase for an operator.
func (c *Controller) parkError(ctx context.Context, run *Run, failedPhase Phase, message string) error {
	if err := c.repo.SetError(ctx, run.ID, failedPhase, message); err != nil {
		return fmt.Errorf("persisting run error: %w", err)
	}
	run.Phase = PhaseError
	run.ErrorPhase = &failedPhase
	run.LastError = &message

	c.event(ctx, run, "run failed: "+message)
	c.reporter.RunPhase(run)
	c.logger.Error("run parked in error phase",
		"run_id", run.ID, "failed_phase", failedPhase, "error", message)
	return nil
}

// handleDriverError deals with a failed driver action: context errors
// propagate untouched (shutdown, not a run fault), device disconnects
// mark the device unhealthy, and everything else parks the run.
func (c *Controller) handleDriverError(ctx context.Context, run *Run, phase Phase, dev *device.Device, err error) error {
	if ctx.Err() != nil {
		// Shutdown mid-action. The run keeps its phase; the next tick
		// after restart resumes from persisted state.
		return err
	}

	if f, ok := driver.AsFailure(err); ok && f.Code == driver.CodeDeviceDisconnected {
		if healthErr := c.devices.UpdateHealth(ctx, dev.ID, device.HealthUnreachable, c.clock.Now().UTC()); healthErr != nil {
			c.logger.Warn("device health update failed", "device_id", dev.ID, "error", healthErr)
		}
		c.reporter.DeviceHealth(dev.ID, string(device.HealthUnreachable))
	}

	return c.parkError(ctx, run, phase, err.Error())
}

// withRetry runs fn, retrying retryable driver failures with doubling
// backoff up to the policy's bound. Non-retryable failures and non-driver
// errors return immediately.
func (c *Controller) withRetry(ctx context.Context, run *Run, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		f, ok := driver.AsFailure(err)
		if !ok || !f.Code.Retryable() || attempt >= c.retry.MaxRetries {
			return err
		}

		backoff := c.retry.Backoff << uint(attempt)
		c.logger.Warn("action failed, retrying",
			"run_id", run.ID, "op", op, "attempt", attempt+1,
			"max_retries", c.retry.MaxRetries, "code", f.Code, "backoff", backoff)
		c.event(ctx, run, fmt.Sprintf("%s attempt %d failed (%s), retrying", op, attempt+1, f.Code))

		if err := c.clock.Sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

// transition persists a phase change and reports it.
func (c *Controller) transition(ctx context.Context, run *Run, phase Phase, message string) error {
	if err := c.repo.SetPhase(ctx, run.ID, phase); err != nil {
		return fmt.Errorf("transitioning to %s: %w", phase, err)
	}
	run.Phase = phase
	run.WakeAt = nil

	c.event(ctx, run, message)
	c.reporter.RunPhase(run)
	return nil
}

// collaborators loads everything a work phase needs. Any miss (deleted
// account, missing content) is an operator problem, reported as an error
// the caller parks the run with.
func (c *Controller) collaborators(ctx context.Context, run *Run) (*Carousel, *account.Account, *device.Device, *content.Item, *content.AudienceProfile, error) {
	car, err := c.repo.GetCarousel(ctx, run.CarouselID)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading carousel: %w", err)
	}

	acct, err := c.accounts.GetByID(ctx, run.AccountID)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading account: %w", err)
	}
	if acct.DeviceID == "" {
		return nil, nil, nil, nil, nil, fmt.Errorf("account %s has no device binding", acct.Username)
	}

	dev, err := c.devices.GetByID(ctx, acct.DeviceID)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading device: %w", err)
	}

	item, err := c.catalog.GetItem(ctx, car.ContentItemID)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading content item: %w", err)
	}

	profile, err := c.catalog.GetProfile(ctx, item.AudienceID)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading audience profile: %w", err)
	}

	return car, acct, dev, item, profile, nil
}

// cancelRequested re-reads the run's cancel flag. Called between items so
// an operator cancel lands at the next boundary, never mid-upload.
func (c *Controller) cancelRequested(ctx context.Context, runID string) (bool, error) {
	run, err := c.repo.GetRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("checking cancel flag: %w", err)
	}
	return run.CancelRequested, nil
}

// event appends to the run's activity log and mirrors it to the reporter.
// Log failures are logged, not fatal: the action already happened.
func (c *Controller) event(ctx context.Context, run *Run, message string) {
	e := &RunEvent{RunID: run.ID, Phase: run.Phase, Message: message}
	if err := c.repo.AppendEvent(ctx, e); err != nil {
		c.logger.Warn("run event write failed", "run_id", run.ID, "error", err)
	}
	c.reporter.RunEvent(run.ID, run.Phase, message)
}

// failureCode extracts the taxonomy code for telemetry, or "error" for
// non-driver failures.
func failureCode(err error) string {
	if f, ok := driver.AsFailure(err); ok {
		return string(f.Code)
	}
	return "error"
}
