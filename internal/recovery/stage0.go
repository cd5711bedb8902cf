package recovery

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vfsrecovery/internal/config"
	"vfsrecovery/internal/enum"
	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/recovery/atomicswap"
	"vfsrecovery/internal/records"
)

// Interner and log layout filenames at both the source and destination
// cache roots. vfslog holds the operation log directory itself (chunk
// files plus its size/start markers); records/content/attributes are
// FSRecords' own files, opened via records.Open(dir).
const (
	namesFileName     = "names"
	attrEnumsFileName = "attributes_enums"
	logDirName        = "vfslog"
)

// logAppendWorkers is the fixed-size write-worker pool LogStorage starts
// with; recovery's own writes are a handful of bookkeeping ops per
// lost-content file, never a throughput concern.
const logAppendWorkers = 4

// stage0Setup validates the destination, copies the two interner files and
// the whole log directory verbatim, truncates the copied log to cutPoint,
// and opens a fresh FSRecords handle — everything later stages build on.
func stage0Setup(logger *slog.Logger, tun config.Tunables, cutPoint uint64, oldDir, newDir string) (*RecoveryContext, error) {
	if err := validateEmptyDestination(newDir); err != nil {
		return nil, fatal("stage0", err)
	}

	if err := atomicswap.CopyFile(filepath.Join(oldDir, namesFileName), filepath.Join(newDir, namesFileName)); err != nil {
		return nil, fatal("stage0", fmt.Errorf("copy name interner: %w", err))
	}
	if err := atomicswap.CopyFile(filepath.Join(oldDir, attrEnumsFileName), filepath.Join(newDir, attrEnumsFileName)); err != nil {
		return nil, fatal("stage0", fmt.Errorf("copy attribute interner: %w", err))
	}
	if err := atomicswap.CopyDir(filepath.Join(oldDir, logDirName), filepath.Join(newDir, logDirName)); err != nil {
		return nil, fatal("stage0", fmt.Errorf("copy log directory: %w", err))
	}

	log, err := oplog.Open(filepath.Join(newDir, logDirName), tun.LogChunkSize, logAppendWorkers, tun.LogWriteBufferCapacity)
	if err != nil {
		return nil, fatal("stage0", fmt.Errorf("open copied log: %w", err))
	}
	if err := log.TruncateEnd(cutPoint); err != nil {
		log.Close()
		return nil, fatal("stage0", fmt.Errorf("truncate copied log to cut point: %w", err))
	}

	names, err := enum.OpenFileNameTable(filepath.Join(newDir, namesFileName))
	if err != nil {
		log.Close()
		return nil, fatal("stage0", fmt.Errorf("open name interner: %w", err))
	}
	attrs, err := enum.OpenFileAttrTable(filepath.Join(newDir, attrEnumsFileName))
	if err != nil {
		log.Close()
		names.Close()
		return nil, fatal("stage0", fmt.Errorf("open attribute interner: %w", err))
	}

	rec, err := records.Open(newDir, tun.PayloadCompressionMinSize)
	if err != nil {
		log.Close()
		names.Close()
		attrs.Close()
		return nil, fatal("stage0", fmt.Errorf("open fresh records store: %w", err))
	}

	return &RecoveryContext{
		logger: logger,
		tun:    tun,
		oldDir: oldDir,
		newDir: newDir,
		names:  names,
		attrs:  attrs,
		log:    log,
		rec:    rec,
	}, nil
}

func validateEmptyDestination(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return fmt.Errorf("read destination: %w", err)
	}
	if len(entries) > 0 {
		return ErrDestinationNotEmpty
	}
	return nil
}
