package carousel

import "time"

// Phase is the lifecycle state of a carousel run.
type Phase string

// Run phases. A run moves idle -> uploading -> live_waiting -> deleting
// -> cycle_done and either loops back to uploading or ends terminated.
// The error phase is terminal until an operator resumes the run.
const (
	PhaseIdle        Phase = "idle"
	PhaseUploading   Phase = "uploading"
	PhaseLiveWaiting Phase = "live_waiting"
	PhaseDeleting    Phase = "deleting"
	PhaseCycleDone   Phase = "cycle_done"
	PhaseTerminated  Phase = "terminated"
	PhaseError       Phase = "error"
)

// AllPhases returns every valid phase value.
func AllPhases() []Phase {
	return []Phase{
		PhaseIdle, PhaseUploading, PhaseLiveWaiting, PhaseDeleting,
		PhaseCycleDone, PhaseTerminated, PhaseError,
	}
}

// Terminal reports whether the phase ends dispatcher scheduling.
// Error runs are terminal too: only an operator resume reactivates them.
func (p Phase) Terminal() bool {
	return p == PhaseTerminated || p == PhaseError
}

// Carousel is the durable definition of an upload/dwell/delete loop:
// which account posts which video, how many copies per cycle, and how
// long the copies stay live.
type Carousel struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	ContentItemID string `json:"content_item_id"`

	// ItemsPerCycle is how many copies of the video each cycle uploads.
	ItemsPerCycle int `json:"items_per_cycle"`

	// WaitMinMinutes/WaitMaxMinutes bound the randomized live dwell.
	// The actual wait is sampled uniformly from [min, max] each cycle.
	WaitMinMinutes int `json:"wait_min_minutes"`
	WaitMaxMinutes int `json:"wait_max_minutes"`

	// CycleLimit optionally stops the run after N completed cycles.
	// Nil means unlimited.
	CycleLimit *int `json:"cycle_limit,omitempty"`

	// AutoRestart starts the next cycle after cycle_done. When false the
	// run terminates after one cycle.
	AutoRestart bool `json:"auto_restart"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is one execution of a carousel. At most one non-terminal run may
// exist per carousel at a time.
type Run struct {
	ID         string `json:"id"`
	CarouselID string `json:"carousel_id"`
	AccountID  string `json:"account_id"`

	Phase Phase `json:"phase"`

	// ErrorPhase records which phase failed when Phase is error, so an
	// operator resume can re-enter the right place.
	ErrorPhase *Phase `json:"error_phase,omitempty"`

	// Cycle counts completed cycles. The first cycle runs with Cycle 0.
	Cycle int `json:"cycle"`

	// WakeAt is when a live_waiting run becomes due for deletion.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	// LastError holds the message of the failure that moved the run to
	// the error phase.
	LastError *string `json:"last_error,omitempty"`

	// CancelRequested is set by the operator; the controller honours it
	// at the next item boundary, never mid-upload.
	CancelRequested bool `json:"cancel_requested"`

	// CleanupNeeded marks a terminated run that left items live on the
	// account (cancel honoured mid-cycle).
	CleanupNeeded bool `json:"cleanup_needed"`

	// LiveItems is the durable record of videos currently live on the
	// account for this run, in upload order. List queries leave the slice
	// empty and carry only LiveItemCount.
	LiveItems []LiveItem `json:"live_items,omitempty"`

	// LiveItemCount is the size of the live-item set, populated on every
	// read so listings show it without loading the items themselves.
	LiveItemCount int `json:"live_item_count"`

	LastTransitionAt time.Time  `json:"last_transition_at"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// LiveItem is one uploaded video that has not been deleted yet.
type LiveItem struct {
	Handle     string    `json:"handle"`
	Position   int       `json:"position"`
	UploadedAt time.Time `json:"uploaded_at"`

	// NeedsReconciliation marks an item whose deletion outcome is
	// unknown: it may or may not still be live on the account. Cleared
	// only by an operator resume, which attests manual reconciliation.
	NeedsReconciliation bool `json:"needs_reconciliation"`
}

// RunEvent is one line of a run's persistent activity log.
type RunEvent struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
