// Package carousel implements the posting cycle at the heart of the
// system: upload a batch of videos, let them sit live for a randomized
// dwell, delete them, and start over.
//
// A Carousel is the configuration (which account, which content, batch
// size, wait window); a Run is one execution of it, moving through
// phases idle -> uploading -> live_waiting -> deleting -> cycle_done and
// either looping or terminating. Every phase change and every uploaded
// item is persisted before the run moves on, so a crash at any point
// resumes exactly where it stopped. In particular the set of videos
// currently live on the account is never lost.
//
// The Controller does the work of a single run, one Tick at a time. The
// Dispatcher polls for due runs and fans ticks out across a bounded
// worker pool, and carries the operator actions (activate, cancel,
// resume). Failures the driver cannot recover from park the run in an
// error phase for a human; the run's live items stay recorded so the
// operator knows what the account is showing.
package carousel
