// Package config holds the small set of numeric tunables the VFS recovery
// engine reads once, at RecoveryContext construction time.
//
// Unlike a control-plane configuration store, there is no persistence, no
// hot reload, and no declarative component graph here: recovery is a single
// library call, so its knobs are passed once as plain values. Tunables is
// read from the environment at process start and otherwise threaded through
// explicitly — components never reach for it as ambient global state.
package config

import (
	"os"
	"strconv"
	"time"
)

// Tunables collects every knob spec.md §6 names.
type Tunables struct {
	// RecordsInitChunkSize is the number of fileIds processed per Stage 2
	// pass, bounding the working set kept in memory at once.
	RecordsInitChunkSize int

	// LogWriteBufferCapacity is the bounded channel capacity for the
	// LogStorage append-worker pool.
	LogWriteBufferCapacity int

	// LogChunkSize is the on-disk chunk granularity for the operation log.
	LogChunkSize int64

	// CleanWindowForPointFinder is the number of consecutive clean
	// (Complete, non-exceptional) records RecoveryPointFinder requires
	// before accepting a candidate recovery point.
	CleanWindowForPointFinder int

	// RestorePointInitialSkip seeds the geometric spacing used by thinOut.
	RestorePointInitialSkip time.Duration

	// RestorePointMultiplier is the geometric growth factor thinOut applies
	// to the skip window after each emitted restore point.
	RestorePointMultiplier float64

	// PayloadCompressionMinSize is the minimum content-blob size, in bytes,
	// above which PayloadStore zstd-compresses a blob before writing it.
	// Zero disables compression entirely.
	PayloadCompressionMinSize int64
}

// Defaults returns the tunables at their spec-mandated default values.
func Defaults() Tunables {
	return Tunables{
		RecordsInitChunkSize:      750_000,
		LogWriteBufferCapacity:    5_000,
		LogChunkSize:              64 << 20, // 64 MiB
		CleanWindowForPointFinder: 50_000,
		RestorePointInitialSkip:   30_000 * time.Millisecond,
		RestorePointMultiplier:    1.618,
		PayloadCompressionMinSize: 0,
	}
}

// envOverrides, keyed by the VFSRECOVERY_ environment variable suffix each
// field reads from.
const (
	envRecordsInitChunkSize      = "VFSRECOVERY_RECORDS_INIT_CHUNK_SIZE"
	envLogWriteBufferCapacity    = "VFSRECOVERY_LOG_WRITE_BUFFER_CAPACITY"
	envLogChunkSize              = "VFSRECOVERY_LOG_CHUNK_SIZE"
	envCleanWindowForPointFinder = "VFSRECOVERY_CLEAN_WINDOW"
	envRestorePointInitialSkipMs = "VFSRECOVERY_RESTORE_POINT_INITIAL_SKIP_MS"
	envRestorePointMultiplier    = "VFSRECOVERY_RESTORE_POINT_MULTIPLIER"
	envPayloadCompressionMinSize = "VFSRECOVERY_PAYLOAD_COMPRESSION_MIN_SIZE"
)

// TunablesFromEnv returns Defaults() with any of the VFSRECOVERY_* env vars
// present overriding the matching field. Malformed values are ignored (the
// default is kept) rather than treated as fatal — these are operational
// knobs, not correctness-critical configuration.
func TunablesFromEnv() Tunables {
	t := Defaults()

	if v, ok := intFromEnv(envRecordsInitChunkSize); ok {
		t.RecordsInitChunkSize = v
	}
	if v, ok := intFromEnv(envLogWriteBufferCapacity); ok {
		t.LogWriteBufferCapacity = v
	}
	if v, ok := int64FromEnv(envLogChunkSize); ok {
		t.LogChunkSize = v
	}
	if v, ok := intFromEnv(envCleanWindowForPointFinder); ok {
		t.CleanWindowForPointFinder = v
	}
	if v, ok := int64FromEnv(envRestorePointInitialSkipMs); ok {
		t.RestorePointInitialSkip = time.Duration(v) * time.Millisecond
	}
	if v, ok := floatFromEnv(envRestorePointMultiplier); ok {
		t.RestorePointMultiplier = v
	}
	if v, ok := int64FromEnv(envPayloadCompressionMinSize); ok {
		t.PayloadCompressionMinSize = v
	}

	return t
}

func intFromEnv(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func int64FromEnv(key string) (int64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatFromEnv(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
