package carousel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for carousel and run persistence.
//
// Run mutations are deliberately fine-grained: the controller persists
// every item upload and deletion individually so a crash at any point
// recovers to an accurate picture of what is live on the account.
type Repository interface {
	// GetCarousel retrieves a carousel by ID.
	// Returns ErrCarouselNotFound if it does not exist.
	GetCarousel(ctx context.Context, id string) (*Carousel, error)

	// ListCarousels retrieves all carousels ordered by creation time.
	ListCarousels(ctx context.Context) ([]Carousel, error)

	// ListCarouselsByAccount retrieves all carousels for an account.
	ListCarouselsByAccount(ctx context.Context, accountID string) ([]Carousel, error)

	// CreateCarousel inserts a new carousel definition.
	CreateCarousel(ctx context.Context, c *Carousel) error

	// UpdateCarousel modifies an existing carousel definition.
	UpdateCarousel(ctx context.Context, c *Carousel) error

	// DeleteCarousel removes a carousel by ID.
	DeleteCarousel(ctx context.Context, id string) error

	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run with its live items.
	// Returns ErrRunNotFound if it does not exist.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns retrieves runs matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// LoadActiveRuns retrieves all non-terminal runs with their live
	// items. Called at startup for crash recovery and by the dispatcher
	// on every poll.
	LoadActiveRuns(ctx context.Context) ([]Run, error)

	// ActiveRunForCarousel returns the non-terminal run for a carousel,
	// or nil when there is none.
	ActiveRunForCarousel(ctx context.Context, carouselID string) (*Run, error)

	// SetPhase transitions a run to a new phase, stamping
	// last_transition_at and clearing any wake time.
	SetPhase(ctx context.Context, runID string, phase Phase) error

	// SetWake transitions a run to live_waiting with the given wake time.
	SetWake(ctx context.Context, runID string, wakeAt time.Time) error

	// SetCycle updates the completed-cycle counter.
	SetCycle(ctx context.Context, runID string, cycle int) error

	// SetError moves a run to the error phase, recording which phase
	// failed and why.
	SetError(ctx context.Context, runID string, failedPhase Phase, message string) error

	// CompleteRun moves a run to terminated and stamps completed_at.
	// cleanupNeeded marks runs that left items live on the account.
	CompleteRun(ctx context.Context, runID string, cleanupNeeded bool) error

	// ResumeRun moves an error run back into the given phase, clearing
	// the error fields and all reconciliation flags.
	ResumeRun(ctx context.Context, runID string, phase Phase) error

	// RequestCancel sets the cancel flag on a run. The controller
	// honours it at the next item boundary.
	RequestCancel(ctx context.Context, runID string) error

	// AppendItem durably records an uploaded item before anything else
	// happens to the run.
	AppendItem(ctx context.Context, runID string, item LiveItem) error

	// RemoveItem durably records a confirmed deletion.
	RemoveItem(ctx context.Context, runID string, handle string) error

	// MarkItemReconciliation flags an item whose deletion outcome is
	// unknown.
	MarkItemReconciliation(ctx context.Context, runID string, handle string) error

	// AppendEvent adds a line to the run's activity log.
	AppendEvent(ctx context.Context, event *RunEvent) error

	// ListEvents retrieves a run's activity log, newest first.
	ListEvents(ctx context.Context, runID string, limit int) ([]RunEvent, error)
}

// RunFilter controls which runs ListRuns returns.
type RunFilter struct {
	CarouselID string // optional
	AccountID  string // optional
	Phase      Phase  // optional
	Limit      int    // default 50, max 200
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// =============================================================================
// Carousels
// =============================================================================

const carouselColumns = `id, account_id, content_item_id, items_per_cycle,
	wait_min_minutes, wait_max_minutes, cycle_limit, auto_restart, created_at, updated_at`

// GetCarousel retrieves a carousel by ID.
func (r *SQLiteRepository) GetCarousel(ctx context.Context, id string) (*Carousel, error) {
	query := fmt.Sprintf("SELECT %s FROM carousels WHERE id = ?", carouselColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	c, err := scanCarousel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCarouselNotFound
		}
		return nil, fmt.Errorf("querying carousel: %w", err)
	}
	return c, nil
}

// ListCarousels retrieves all carousels ordered by creation time.
func (r *SQLiteRepository) ListCarousels(ctx context.Context) ([]Carousel, error) {
	query := fmt.Sprintf("SELECT %s FROM carousels ORDER BY created_at DESC", carouselColumns)
	return r.queryCarousels(ctx, query)
}

// ListCarouselsByAccount retrieves all carousels for an account.
func (r *SQLiteRepository) ListCarouselsByAccount(ctx context.Context, accountID string) ([]Carousel, error) {
	query := fmt.Sprintf("SELECT %s FROM carousels WHERE account_id = ? ORDER BY created_at DESC", carouselColumns)
	return r.queryCarousels(ctx, query, accountID)
}

// CreateCarousel inserts a new carousel definition.
func (r *SQLiteRepository) CreateCarousel(ctx context.Context, c *Carousel) error {
	if c.ID == "" {
		c.ID = GenerateID()
	}
	if err := ValidateCarousel(c); err != nil {
		return err
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO carousels (
			id, account_id, content_item_id, items_per_cycle,
			wait_min_minutes, wait_max_minutes, cycle_limit, auto_restart,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.AccountID,
		c.ContentItemID,
		c.ItemsPerCycle,
		c.WaitMinMinutes,
		c.WaitMaxMinutes,
		nullableInt(c.CycleLimit),
		boolToInt(c.AutoRestart),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrCarouselExists
		}
		return fmt.Errorf("inserting carousel: %w", err)
	}

	return nil
}

// UpdateCarousel modifies an existing carousel definition.
func (r *SQLiteRepository) UpdateCarousel(ctx context.Context, c *Carousel) error {
	if err := ValidateCarousel(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE carousels SET
			account_id = ?, content_item_id = ?, items_per_cycle = ?,
			wait_min_minutes = ?, wait_max_minutes = ?, cycle_limit = ?,
			auto_restart = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		c.AccountID,
		c.ContentItemID,
		c.ItemsPerCycle,
		c.WaitMinMinutes,
		c.WaitMaxMinutes,
		nullableInt(c.CycleLimit),
		boolToInt(c.AutoRestart),
		c.UpdatedAt.Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating carousel: %w", err)
	}

	return requireAffected(result, ErrCarouselNotFound)
}

// DeleteCarousel removes a carousel by ID.
func (r *SQLiteRepository) DeleteCarousel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM carousels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting carousel: %w", err)
	}
	return requireAffected(result, ErrCarouselNotFound)
}

// =============================================================================
// Runs
// =============================================================================

const runColumns = `id, carousel_id, account_id, phase, error_phase, cycle,
	wake_at, last_error, cancel_requested, cleanup_needed,
	last_transition_at, created_at, completed_at,
	(SELECT COUNT(*) FROM run_items WHERE run_items.run_id = carousel_runs.id)`

// CreateRun inserts a new run.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = GenerateRunID()
	}
	if run.Phase == "" {
		run.Phase = PhaseIdle
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.LastTransitionAt = now

	query := `
		INSERT INTO carousel_runs (
			id, carousel_id, account_id, phase, error_phase, cycle,
			wake_at, last_error, cancel_requested, cleanup_needed,
			last_transition_at, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.CarouselID,
		run.AccountID,
		string(run.Phase),
		nullablePhase(run.ErrorPhase),
		run.Cycle,
		nullableTime(run.WakeAt),
		nullableString(run.LastError),
		boolToInt(run.CancelRequested),
		boolToInt(run.CleanupNeeded),
		run.LastTransitionAt.Format(time.RFC3339),
		run.CreatedAt.Format(time.RFC3339),
		nullableTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

// GetRun retrieves a run with its live items.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := fmt.Sprintf("SELECT %s FROM carousel_runs WHERE id = ?", runColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}

	if err := r.loadItems(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves runs matching the filter, newest first. Each run
// carries its live-item count; the items themselves are not loaded, use
// GetRun for the full picture.
func (r *SQLiteRepository) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for run queries
		filter.Limit = 200
	}

	var conditions []string
	var args []any

	if filter.CarouselID != "" {
		conditions = append(conditions, "carousel_id = ?")
		args = append(args, filter.CarouselID)
	}
	if filter.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Phase != "" {
		conditions = append(conditions, "phase = ?")
		args = append(args, string(filter.Phase))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT %s FROM carousel_runs %s ORDER BY created_at DESC LIMIT ?",
		runColumns, where,
	)
	args = append(args, filter.Limit)

	return r.queryRuns(ctx, query, args...)
}

// LoadActiveRuns retrieves all non-terminal runs with their live items.
func (r *SQLiteRepository) LoadActiveRuns(ctx context.Context) ([]Run, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM carousel_runs WHERE phase NOT IN (?, ?) ORDER BY created_at",
		runColumns,
	)

	runs, err := r.queryRuns(ctx, query, string(PhaseTerminated), string(PhaseError))
	if err != nil {
		return nil, err
	}

	for i := range runs {
		if err := r.loadItems(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// ActiveRunForCarousel returns the non-terminal run for a carousel, or
// nil when there is none. Error runs count as active for activation
// purposes: they hold live items that a second run must not race.
func (r *SQLiteRepository) ActiveRunForCarousel(ctx context.Context, carouselID string) (*Run, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM carousel_runs WHERE carousel_id = ? AND phase != ? ORDER BY created_at DESC LIMIT 1",
		runColumns,
	)

	row := r.db.QueryRowContext(ctx, query, carouselID, string(PhaseTerminated))
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying active run: %w", err)
	}

	if err := r.loadItems(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// SetPhase transitions a run to a new phase.
func (r *SQLiteRepository) SetPhase(ctx context.Context, runID string, phase Phase) error {
	now := time.Now().UTC()
	query := `
		UPDATE carousel_runs
		SET phase = ?, wake_at = NULL, last_transition_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, string(phase), now.Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("setting run phase: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// SetWake transitions a run to live_waiting with the given wake time.
func (r *SQLiteRepository) SetWake(ctx context.Context, runID string, wakeAt time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE carousel_runs
		SET phase = ?, wake_at = ?, last_transition_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(PhaseLiveWaiting),
		wakeAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		runID,
	)
	if err != nil {
		return fmt.Errorf("setting run wake time: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// SetCycle updates the completed-cycle counter.
func (r *SQLiteRepository) SetCycle(ctx context.Context, runID string, cycle int) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE carousel_runs SET cycle = ? WHERE id = ?", cycle, runID)
	if err != nil {
		return fmt.Errorf("setting run cycle: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// SetError moves a run to the error phase.
func (r *SQLiteRepository) SetError(ctx context.Context, runID string, failedPhase Phase, message string) error {
	now := time.Now().UTC()
	query := `
		UPDATE carousel_runs
		SET phase = ?, error_phase = ?, last_error = ?, wake_at = NULL, last_transition_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(PhaseError),
		string(failedPhase),
		message,
		now.Format(time.RFC3339),
		runID,
	)
	if err != nil {
		return fmt.Errorf("setting run error: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// CompleteRun moves a run to terminated and stamps completed_at.
func (r *SQLiteRepository) CompleteRun(ctx context.Context, runID string, cleanupNeeded bool) error {
	now := time.Now().UTC()
	query := `
		UPDATE carousel_runs
		SET phase = ?, wake_at = NULL, cleanup_needed = ?,
		    last_transition_at = ?, completed_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(PhaseTerminated),
		boolToInt(cleanupNeeded),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		runID,
	)
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// ResumeRun moves an error run back into the given phase. The error
// fields, the cancel flag, and every reconciliation flag are cleared:
// resuming attests that the operator reconciled the account manually.
func (r *SQLiteRepository) ResumeRun(ctx context.Context, runID string, phase Phase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning resume transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE carousel_runs
		SET phase = ?, error_phase = NULL, last_error = NULL,
		    cancel_requested = 0, last_transition_at = ?
		WHERE id = ?`,
		string(phase), now.Format(time.RFC3339), runID,
	)
	if err != nil {
		return fmt.Errorf("resuming run: %w", err)
	}
	if err := requireAffected(result, ErrRunNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE run_items SET needs_reconciliation = 0 WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clearing reconciliation flags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing resume: %w", err)
	}
	return nil
}

// RequestCancel sets the cancel flag on a run.
func (r *SQLiteRepository) RequestCancel(ctx context.Context, runID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE carousel_runs SET cancel_requested = 1 WHERE id = ?", runID)
	if err != nil {
		return fmt.Errorf("requesting cancel: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// =============================================================================
// Live items
// =============================================================================

// AppendItem durably records an uploaded item.
func (r *SQLiteRepository) AppendItem(ctx context.Context, runID string, item LiveItem) error {
	query := `
		INSERT INTO run_items (run_id, handle, position, uploaded_at, needs_reconciliation)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		runID,
		item.Handle,
		item.Position,
		item.UploadedAt.UTC().Format(time.RFC3339),
		boolToInt(item.NeedsReconciliation),
	)
	if err != nil {
		return fmt.Errorf("inserting run item: %w", err)
	}
	return nil
}

// RemoveItem durably records a confirmed deletion.
func (r *SQLiteRepository) RemoveItem(ctx context.Context, runID, handle string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM run_items WHERE run_id = ? AND handle = ?", runID, handle)
	if err != nil {
		return fmt.Errorf("removing run item: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// MarkItemReconciliation flags an item whose deletion outcome is unknown.
func (r *SQLiteRepository) MarkItemReconciliation(ctx context.Context, runID, handle string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE run_items SET needs_reconciliation = 1 WHERE run_id = ? AND handle = ?",
		runID, handle)
	if err != nil {
		return fmt.Errorf("marking run item: %w", err)
	}
	return requireAffected(result, ErrRunNotFound)
}

// loadItems populates a run's live items in upload order.
func (r *SQLiteRepository) loadItems(ctx context.Context, run *Run) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT handle, position, uploaded_at, needs_reconciliation
		FROM run_items
		WHERE run_id = ?
		ORDER BY position`, run.ID)
	if err != nil {
		return fmt.Errorf("querying run items: %w", err)
	}
	defer rows.Close()

	var items []LiveItem
	for rows.Next() {
		var item LiveItem
		var uploadedAt string
		var needsRecon int

		if err := rows.Scan(&item.Handle, &item.Position, &uploadedAt, &needsRecon); err != nil {
			return fmt.Errorf("scanning run item: %w", err)
		}

		item.UploadedAt, err = time.Parse(time.RFC3339, uploadedAt)
		if err != nil {
			return fmt.Errorf("parsing uploaded_at: %w", err)
		}
		item.NeedsReconciliation = needsRecon != 0

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating run items: %w", err)
	}

	run.LiveItems = items
	return nil
}

// =============================================================================
// Run events
// =============================================================================

// AppendEvent adds a line to the run's activity log.
func (r *SQLiteRepository) AppendEvent(ctx context.Context, event *RunEvent) error {
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, phase, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.RunID,
		string(event.Phase),
		event.Message,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting run event: %w", err)
	}
	return nil
}

// ListEvents retrieves a run's activity log, newest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, runID string, limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, phase, message, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var phase, createdAt string

		if err := rows.Scan(&e.ID, &e.RunID, &phase, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run event: %w", err)
		}

		e.Phase = Phase(phase)
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event created_at: %w", err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run events: %w", err)
	}

	return events, nil
}

// =============================================================================
// Scan helpers
// =============================================================================

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCarousel scans a row or rows result into a Carousel.
func scanCarousel(scanner rowScanner) (*Carousel, error) {
	var c Carousel
	var cycleLimit sql.NullInt64
	var autoRestart int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&c.ID,
		&c.AccountID,
		&c.ContentItemID,
		&c.ItemsPerCycle,
		&c.WaitMinMinutes,
		&c.WaitMaxMinutes,
		&cycleLimit,
		&autoRestart,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AutoRestart = autoRestart != 0
	if cycleLimit.Valid {
		limit := int(cycleLimit.Int64)
		c.CycleLimit = &limit
	}

	var parseErr error
	c.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	c.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &c, nil
}

// scanRun scans a row or rows result into a Run. The live-item count
// comes from the row; the items themselves need loadItems.
func scanRun(scanner rowScanner) (*Run, error) {
	var run Run
	var phase string
	var errorPhase, wakeAt, lastError, completedAt sql.NullString
	var cancelRequested, cleanupNeeded int
	var lastTransitionAt, createdAt string

	err := scanner.Scan(
		&run.ID,
		&run.CarouselID,
		&run.AccountID,
		&phase,
		&errorPhase,
		&run.Cycle,
		&wakeAt,
		&lastError,
		&cancelRequested,
		&cleanupNeeded,
		&lastTransitionAt,
		&createdAt,
		&completedAt,
		&run.LiveItemCount,
	)
	if err != nil {
		return nil, err
	}

	run.Phase = Phase(phase)
	run.CancelRequested = cancelRequested != 0
	run.CleanupNeeded = cleanupNeeded != 0

	if errorPhase.Valid {
		p := Phase(errorPhase.String)
		run.ErrorPhase = &p
	}
	if lastError.Valid {
		run.LastError = &lastError.String
	}
	if wakeAt.Valid {
		t, err := time.Parse(time.RFC3339, wakeAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing wake_at: %w", err)
		}
		run.WakeAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		run.CompletedAt = &t
	}

	var parseErr error
	run.LastTransitionAt, parseErr = time.Parse(time.RFC3339, lastTransitionAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing last_transition_at: %w", parseErr)
	}
	run.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}

	return &run, nil
}

// queryCarousels executes a query and returns a slice of carousels.
func (r *SQLiteRepository) queryCarousels(ctx context.Context, query string, args ...any) ([]Carousel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying carousels: %w", err)
	}
	defer rows.Close()

	var carousels []Carousel
	for rows.Next() {
		c, err := scanCarousel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning carousel: %w", err)
		}
		carousels = append(carousels, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating carousels: %w", err)
	}

	return carousels, nil
}

// queryRuns executes a query and returns a slice of runs without items.
func (r *SQLiteRepository) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return runs, nil
}

// requireAffected maps a zero-row update onto the given sentinel.
func requireAffected(result sql.Result, sentinel error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return sentinel
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullablePhase returns a sql.NullString for optional phase pointers.
func nullablePhase(p *Phase) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

// nullableInt returns a sql.NullInt64 for optional int pointers.
func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
