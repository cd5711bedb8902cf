package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vfsrecovery/internal/config"
	"vfsrecovery/internal/recovery/atomicswap"
	"vfsrecovery/internal/records"
)

// NewStagingDir names a fresh destination directory next to oldRoot, for
// callers that want RecoverFromPoint to build into scratch space before
// deciding whether to hand the result to atomicswap. The directory itself
// is created by Stage 0, not here.
func NewStagingDir(oldRoot string) string {
	return filepath.Join(filepath.Dir(oldRoot), "recovering-"+uuid.NewString())
}

// RecoverFromPoint runs the full four-stage pipeline against a chosen
// recovery point: it copies what it needs from oldDir into newDir, rebuilds
// content, records, and the directory tree there, and on success writes an
// atomicswap marker so the next process start picks up the recovered
// cache. newDir must not exist or must be empty; oldDir is only read from,
// except that on success the atomicswap marker file is written into it.
//
// progress, if non-nil, is called at each stage boundary; an error it
// returns aborts recovery immediately. ctx is checked at the same
// boundaries for cancellation.
func RecoverFromPoint(ctx context.Context, tun config.Tunables, cutPoint uint64, oldDir, newDir string, progress ProgressReporter, logger *slog.Logger) (*RecoveryResult, error) {
	start := time.Now()
	logger = newLogger(logger)

	if oldDir == newDir {
		return nil, fatal("stage0", ErrSameDirectory)
	}

	rc, err := stage0Setup(logger, tun, cutPoint, oldDir, newDir)
	if err != nil {
		return nil, err
	}
	abort := func(err error) (*RecoveryResult, error) {
		rc.Close()
		return nil, err
	}

	if err := checkpoint(ctx, progress, 0.05, "stage 0: destination prepared"); err != nil {
		return abort(fatal("stage0", err))
	}

	finalResult := newRecoveryResult()

	lastContentID, recovered, err := stage1ContentRecovery(rc)
	if err != nil {
		return abort(err)
	}
	logger.Info("stage 1 complete", "recoveredContentBlobs", recovered, "lastRecoveredContentId", lastContentID)
	finalResult.LastRecoveredContentID = lastContentID

	if err := checkpoint(ctx, progress, 0.3, "stage 1: content recovery complete"); err != nil {
		return abort(fatal("stage1", err))
	}

	maxFileID := findMaxFileID(rc.log)
	finalResult.LastAllocatedRecord = maxFileID

	if err := stage2RecordInit(rc, maxFileID, lastContentID, finalResult); err != nil {
		return abort(err)
	}
	if err := checkpoint(ctx, progress, 0.6, "stage 2: record initialization complete"); err != nil {
		return abort(fatal("stage2", err))
	}

	if err := stage3TreeReconstruction(rc, maxFileID, finalResult); err != nil {
		return abort(err)
	}
	if err := checkpoint(ctx, progress, 0.85, "stage 3: tree reconstruction complete"); err != nil {
		return abort(fatal("stage3", err))
	}

	if err := stage4MarkUnused(rc, maxFileID, finalResult); err != nil {
		return abort(err)
	}
	if err := tallyFileStateCounts(rc, maxFileID, finalResult); err != nil {
		return abort(err)
	}
	if err := checkpoint(ctx, progress, 0.95, "stage 4: mark unused complete"); err != nil {
		return abort(fatal("stage4", err))
	}

	oldTS, err := records.ReadCreationTimestamp(oldDir)
	if err != nil {
		return abort(fatal("finalize", fmt.Errorf("read source creation timestamp: %w", err)))
	}
	if err := rc.rec.SetCreationTimestamp(oldTS); err != nil {
		return abort(fatal("finalize", fmt.Errorf("patch creation timestamp: %w", err)))
	}

	if err := rc.Close(); err != nil {
		return nil, fatal("finalize", fmt.Errorf("close destination handles: %w", err))
	}

	if err := writeSwapMarker(oldDir, newDir); err != nil {
		return nil, fatal("finalize", err)
	}

	finalResult.Duration = time.Since(start)
	logger.Info("recovery complete",
		"duration", finalResult.Duration,
		"lastAllocatedRecord", finalResult.LastAllocatedRecord,
		"recoveredContents", finalResult.RecoveredContentsCount,
		"lostContents", finalResult.LostContentsCount,
		"duplicateChildrenLost", finalResult.DuplicateChildrenLost,
	)
	return finalResult, nil
}

func checkpoint(ctx context.Context, progress ProgressReporter, fraction float64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return report(progress, fraction, text)
}

// writeSwapMarker points oldDir's atomicswap marker at newDir. newDir must
// already live under oldDir's parent, per atomicswap.WriteMarker/Apply's
// relative-path protocol.
func writeSwapMarker(oldDir, newDir string) error {
	return atomicswap.WriteMarker(oldDir, newDir)
}
