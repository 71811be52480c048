package carousel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
)

// Ticker advances a single run. *Controller satisfies it.
type Ticker interface {
	Tick(ctx context.Context, runID string) error
}

// Dispatcher owns the scheduling loop: it polls the repository for runs
// with pending work and hands each one to the controller, at most one
// tick per run at a time and at most MaxConcurrentTicks ticks overall.
//
// It is also the entry point for operator actions (activate, cancel,
// resume), which only flip persisted state; the poll loop picks the
// consequences up on its next pass.
type Dispatcher struct {
	repo   Repository
	ticker Ticker
	clock  Clock
	logger Logger

	pollInterval time.Duration
	sem          *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher from the scheduler configuration.
func NewDispatcher(repo Repository, ticker Ticker, cfg config.SchedulerConfig, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	maxTicks := cfg.MaxConcurrentTicks
	if maxTicks <= 0 {
		maxTicks = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Dispatcher{
		repo:         repo,
		ticker:       ticker,
		clock:        realClock{},
		logger:       logger,
		pollInterval: poll,
		sem:          semaphore.NewWeighted(int64(maxTicks)),
		inFlight:     make(map[string]bool),
	}
}

// Run drives the poll loop until ctx is cancelled, then waits for
// in-flight ticks to finish. Runs that were mid-phase when the previous
// process died are picked up by the first pass; no separate recovery
// step is needed because all run state is persisted.
func (d *Dispatcher) Run(ctx context.Context) {
	active, err := d.repo.LoadActiveRuns(ctx)
	if err != nil {
		d.logger.Error("loading active runs at startup", "error", err)
	} else if len(active) > 0 {
		d.logger.Info("resuming active runs", "count", len(active))
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll dispatches one tick for every due run not already being ticked.
func (d *Dispatcher) poll(ctx context.Context) {
	runs, err := d.repo.LoadActiveRuns(ctx)
	if err != nil {
		d.logger.Error("loading active runs", "error", err)
		return
	}

	now := d.clock.Now()
	for _, run := range runs {
		if !d.due(&run, now) {
			continue
		}
		d.dispatch(ctx, run.ID)
	}
}

// due reports whether a run has work pending right now. Waiting runs are
// due once their wake time passes; a cancel request makes any run due
// immediately so the operator is not kept waiting out the dwell.
func (d *Dispatcher) due(run *Run, now time.Time) bool {
	if run.CancelRequested {
		return true
	}
	if run.Phase == PhaseLiveWaiting {
		return run.WakeAt == nil || !now.Before(*run.WakeAt)
	}
	return true
}

// dispatch starts a tick for the run unless one is already in flight.
func (d *Dispatcher) dispatch(ctx context.Context, runID string) {
	d.mu.Lock()
	if d.inFlight[runID] {
		d.mu.Unlock()
		return
	}
	d.inFlight[runID] = true
	d.mu.Unlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.clearInFlight(runID)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.clearInFlight(runID)

		if err := d.ticker.Tick(ctx, runID); err != nil {
			if ctx.Err() == nil {
				d.logger.Error("run tick failed", "run_id", runID, "error", err)
			}
		}
	}()
}

func (d *Dispatcher) clearInFlight(runID string) {
	d.mu.Lock()
	delete(d.inFlight, runID)
	d.mu.Unlock()
}

// Activate starts a new run for a carousel. Only one non-terminated run
// may exist per carousel; a run parked in the error phase still counts,
// since its live items must be dealt with first.
func (d *Dispatcher) Activate(ctx context.Context, carouselID string) (*Run, error) {
	car, err := d.repo.GetCarousel(ctx, carouselID)
	if err != nil {
		return nil, err
	}

	existing, err := d.repo.ActiveRunForCarousel(ctx, car.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunActive, existing.ID, existing.Phase)
	}

	run := &Run{
		CarouselID: car.ID,
		AccountID:  car.AccountID,
	}
	if err := d.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	d.appendEvent(ctx, run, "run activated")
	d.logger.Info("run activated", "run_id", run.ID, "carousel_id", car.ID)
	return run, nil
}

// Cancel requests a graceful stop. The controller honors the flag at the
// next item boundary, so an upload or delete already underway completes
// first.
func (d *Dispatcher) Cancel(ctx context.Context, runID string) error {
	run, err := d.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Phase.Terminal() {
		return ErrRunFinished
	}

	if err := d.repo.RequestCancel(ctx, runID); err != nil {
		return err
	}

	d.appendEvent(ctx, run, "cancel requested")
	d.logger.Info("run cancel requested", "run_id", runID, "phase", run.Phase)
	return nil
}

// Resume puts an error-phase run back into the phase that failed. The
// operator resuming attests that any items flagged for reconciliation
// have been dealt with on the account; the flags are cleared as part of
// the same transaction.
func (d *Dispatcher) Resume(ctx context.Context, runID string) (*Run, error) {
	run, err := d.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Phase != PhaseError {
		return nil, fmt.Errorf("%w: run is %s", ErrRunNotResumable, run.Phase)
	}

	resumePhase := PhaseUploading
	if run.ErrorPhase != nil {
		resumePhase = *run.ErrorPhase
	}

	if err := d.repo.ResumeRun(ctx, runID, resumePhase); err != nil {
		return nil, err
	}

	run.Phase = resumePhase
	run.ErrorPhase = nil
	run.LastError = nil
	for i := range run.LiveItems {
		run.LiveItems[i].NeedsReconciliation = false
	}

	d.appendEvent(ctx, run, fmt.Sprintf("run resumed into %s", resumePhase))
	d.logger.Info("run resumed", "run_id", runID, "phase", resumePhase)
	return run, nil
}

func (d *Dispatcher) appendEvent(ctx context.Context, run *Run, message string) {
	e := &RunEvent{RunID: run.ID, Phase: run.Phase, Message: message}
	if err := d.repo.AppendEvent(ctx, e); err != nil {
		d.logger.Warn("run event write failed", "run_id", run.ID, "error", err)
	}
}
