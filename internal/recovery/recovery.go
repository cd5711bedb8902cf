// Package recovery implements RecoveryOrchestrator: the four-stage pipeline
// that rebuilds a fresh FSRecords cache from an operation log, then hands
// the result to atomicswap for the next process start to pick up.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vfsrecovery/internal/config"
	"vfsrecovery/internal/enum"
	"vfsrecovery/internal/logging"
	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/records"
	"vfsrecovery/internal/vfsmodel"
)

// Fatal recovery conditions, per spec.md §7's FatalRecoveryError taxonomy.
var (
	ErrDestinationNotEmpty = errors.New("recovery: destination directory is not empty")
	ErrSameDirectory       = errors.New("recovery: source and destination must differ")
)

// VfsRecoveryError wraps a fatal cause with the stage it occurred in.
// Recovery aborts without writing a swap marker whenever one of these is
// returned.
type VfsRecoveryError struct {
	Stage string
	Err   error
}

func (e *VfsRecoveryError) Error() string {
	return fmt.Sprintf("recovery: stage %s: %v", e.Stage, e.Err)
}

func (e *VfsRecoveryError) Unwrap() error { return e.Err }

func fatal(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &VfsRecoveryError{Stage: stage, Err: err}
}

// ProgressReporter receives a fraction in [0,1] and an optional free-text
// description of the current stage. Returning a non-nil error aborts
// recovery: RecoverFromPoint propagates it up, and RecoveryContext.Close releases
// whatever partial state Stage 0 had opened on the destination.
type ProgressReporter func(fraction float64, text string) error

func report(progress ProgressReporter, fraction float64, text string) error {
	if progress == nil {
		return nil
	}
	return progress(fraction, text)
}

// RecoveryResult tallies everything spec.md §7 asks to be counted rather
// than raised as an error. Stage 2 processes fileId chunks concurrently
// (see internal/recovery's stage2.go), so the counters Stages 2 and 3 bump
// go through the methods below rather than a bare field write;
// FileStateCounts is filled by one single-threaded pass after Stage 4.
type RecoveryResult struct {
	mu sync.Mutex

	FileStateCounts map[vfsmodel.RecoveryState]int

	RecoveredContentsCount int
	LostContentsCount      int

	RecoveredAttributesCount int
	BotchedAttributesCount   int

	DuplicateChildrenDeduplicated int
	DuplicateChildrenLost         int
	DuplicateChildrenCount        int

	LastAllocatedRecord    vfsmodel.FileID
	LastRecoveredContentID vfsmodel.ContentID

	Duration time.Duration
	Detail   string
}

func newRecoveryResult() *RecoveryResult {
	return &RecoveryResult{FileStateCounts: map[vfsmodel.RecoveryState]int{}}
}

func (r *RecoveryResult) addRecoveredContent() {
	r.mu.Lock()
	r.RecoveredContentsCount++
	r.mu.Unlock()
}

func (r *RecoveryResult) addLostContent() {
	r.mu.Lock()
	r.LostContentsCount++
	r.mu.Unlock()
}

func (r *RecoveryResult) addRecoveredAttribute() {
	r.mu.Lock()
	r.RecoveredAttributesCount++
	r.mu.Unlock()
}

func (r *RecoveryResult) addBotchedAttribute() {
	r.mu.Lock()
	r.BotchedAttributesCount++
	r.mu.Unlock()
}

// addDuplicateChildren is called once per contested name, tallying the
// candidate count and, mutually exclusively, exactly one of deduplicated or
// lost.
func (r *RecoveryResult) addDuplicateChildren(candidates int, deduplicated bool) {
	r.mu.Lock()
	r.DuplicateChildrenCount += candidates
	if deduplicated {
		r.DuplicateChildrenDeduplicated++
	} else {
		r.DuplicateChildrenLost++
	}
	r.mu.Unlock()
}

// RecoveryContext owns every handle RecoverFromPoint opens on the
// destination. Close releases them; a caller that cancels mid-recovery
// (by returning an error from ProgressReporter) is still responsible for
// discarding the partially populated destination directory.
type RecoveryContext struct {
	logger *slog.Logger
	tun    config.Tunables

	oldDir string
	newDir string

	names *enum.FileNameTable
	attrs *enum.FileAttrTable

	log *oplog.Storage
	rec *records.Store
}

// Close releases every handle opened against the destination. Safe to call
// more than once: each handle is set to nil once closed, and nil handles
// are skipped, so a second call closes nothing.
func (rc *RecoveryContext) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if rc.rec != nil {
		record(rc.rec.Close())
		rc.rec = nil
	}
	if rc.log != nil {
		record(rc.log.Close())
		rc.log = nil
	}
	if rc.names != nil {
		record(rc.names.Close())
		rc.names = nil
	}
	if rc.attrs != nil {
		record(rc.attrs.Close())
		rc.attrs = nil
	}
	return first
}

func newLogger(l *slog.Logger) *slog.Logger {
	return logging.Default(l).With("component", "recovery")
}
