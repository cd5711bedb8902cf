// Command vfsrecover drives RecoverFromPoint from the command line. It
// exists to exercise the recovery library end to end for manual
// smoke-testing; it is not the product's CLI surface (there isn't one).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"vfsrecovery/internal/config"
	"vfsrecovery/internal/logging"
	"vfsrecovery/internal/recovery"
	"vfsrecovery/internal/recovery/atomicswap"
)

func main() {
	var (
		oldDir   = flag.String("old", "", "path to the existing cache root")
		newDir   = flag.String("new", "", "path to the destination directory (created if missing, must be empty)")
		cutPoint = flag.Uint64("cut-point", 0, "log offset to recover to")
		apply    = flag.Bool("apply-swap", false, "apply a pending atomicswap marker at --old and exit")
		verbose  = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, level)
	logger := slog.New(filterHandler)

	if err := run(logger, *oldDir, *newDir, *cutPoint, *apply); err != nil {
		logger.Error("vfsrecover failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, oldDir, newDir string, cutPoint uint64, apply bool) error {
	if oldDir == "" {
		return fmt.Errorf("--old is required")
	}

	if apply {
		applied, err := atomicswap.Apply(oldDir)
		if err != nil {
			return err
		}
		if applied {
			logger.Info("swap applied", "root", oldDir)
		} else {
			logger.Info("no pending swap marker", "root", oldDir)
		}
		return nil
	}

	if newDir == "" {
		newDir = recovery.NewStagingDir(oldDir)
	}

	tun := config.TunablesFromEnv()
	progress := func(fraction float64, text string) error {
		logger.Info("recovery progress", "fraction", fraction, "stage", text)
		return nil
	}

	result, err := recovery.RecoverFromPoint(context.Background(), tun, cutPoint, oldDir, newDir, progress, logger)
	if err != nil {
		return err
	}

	logger.Info("recovery finished",
		"destination", newDir,
		"lastAllocatedRecord", result.LastAllocatedRecord,
		"recoveredContents", result.RecoveredContentsCount,
		"lostContents", result.LostContentsCount,
		"recoveredAttributes", result.RecoveredAttributesCount,
		"botchedAttributes", result.BotchedAttributesCount,
		"duplicateChildrenLost", result.DuplicateChildrenLost,
		"duration", result.Duration,
	)
	return nil
}
