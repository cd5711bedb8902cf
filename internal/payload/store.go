// Package payload implements PayloadStore: the content-addressed,
// append-only blob store backing ContentOperation bytes and attribute
// payloads. Blobs are read back whole by a dense integer id; there is no
// deletion and no partial-range read, so compression (when enabled) uses
// the plain zstd encoder/decoder rather than a seekable framing.
package payload

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"vfsrecovery/internal/format"
)

const (
	dataFileName  = "data"
	indexFileName = "index"

	// indexEntrySize is the fixed stride of one index record:
	// offset(8) + storedLen(4) + rawLen(4) + flags(1).
	indexEntrySize = 8 + 4 + 4 + 1

	flagCompressed byte = 1 << 0
)

// ID identifies one stored blob. IDs are dense, 1-based, and allocated in
// append order.
type ID uint64

// Store is PayloadStore.
type Store struct {
	mu sync.Mutex

	dataFile  *os.File
	indexFile *os.File

	dataEnd int64 // current end of dataFile, where the next blob lands
	count   uint64

	compressionMinSize int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens or creates a PayloadStore rooted at dir. Blobs at or above
// compressionMinSize bytes are zstd-compressed before being written;
// compressionMinSize <= 0 disables compression entirely.
func Open(dir string, compressionMinSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("payload: create dir: %w", err)
	}

	dataPath := filepath.Join(dir, dataFileName)
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("payload: open data file: %w", err)
	}

	info, err := dataFile.Stat()
	if err != nil {
		return nil, err
	}
	dataEnd := info.Size()
	if dataEnd == 0 {
		hdr := format.Header{Type: format.TypePayloadLog, Version: 1}
		if _, err := dataFile.WriteAt(hdr.Encode(), 0); err != nil {
			return nil, fmt.Errorf("payload: write header: %w", err)
		}
		dataEnd = format.HeaderSize
	}

	indexPath := filepath.Join(dir, indexFileName)
	indexFile, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("payload: open index file: %w", err)
	}
	idxInfo, err := indexFile.Stat()
	if err != nil {
		return nil, err
	}
	count := uint64(idxInfo.Size() / indexEntrySize)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("payload: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("payload: new zstd decoder: %w", err)
	}

	return &Store{
		dataFile:           dataFile,
		indexFile:          indexFile,
		dataEnd:            dataEnd,
		count:              count,
		compressionMinSize: compressionMinSize,
		encoder:            enc,
		decoder:            dec,
	}, nil
}

// Count returns the number of blobs currently stored.
func (s *Store) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Append writes bytes as a new blob and returns its id. IDs are assigned
// densely starting at 1, in append order.
func (s *Store) Append(data []byte) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := data
	compressed := false
	if s.compressionMinSize > 0 && int64(len(data)) >= s.compressionMinSize {
		stored = s.encoder.EncodeAll(data, nil)
		compressed = true
	}

	off := s.dataEnd
	if _, err := s.dataFile.WriteAt(stored, off); err != nil {
		return 0, fmt.Errorf("payload: write blob: %w", err)
	}
	s.dataEnd += int64(len(stored))

	var entry [indexEntrySize]byte
	binary.LittleEndian.PutUint64(entry[0:8], uint64(off))
	binary.LittleEndian.PutUint32(entry[8:12], uint32(len(stored)))
	binary.LittleEndian.PutUint32(entry[12:16], uint32(len(data)))
	if compressed {
		entry[16] = flagCompressed
	}
	idxOff := int64(s.count) * indexEntrySize
	if _, err := s.indexFile.WriteAt(entry[:], idxOff); err != nil {
		return 0, fmt.Errorf("payload: write index entry: %w", err)
	}

	s.count++
	return ID(s.count), nil
}

// ReadResult is the PayloadStore lookup outcome: Ready(bytes) or
// NotAvailable(cause). A NotAvailable result carries no error when the
// cause is simply "id not yet allocated" — that's the expected way a
// forward scan over payload ids discovers its end.
type ReadResult struct {
	Ready bool
	Bytes []byte
	Cause error
}

// ReadAt resolves id to its stored bytes, decompressing if necessary.
func (s *Store) ReadAt(id ID) ReadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || uint64(id) > s.count {
		return ReadResult{Ready: false}
	}

	var entry [indexEntrySize]byte
	idxOff := int64(id-1) * indexEntrySize
	if _, err := s.indexFile.ReadAt(entry[:], idxOff); err != nil {
		return ReadResult{Ready: false, Cause: err}
	}
	off := int64(binary.LittleEndian.Uint64(entry[0:8]))
	storedLen := binary.LittleEndian.Uint32(entry[8:12])
	rawLen := binary.LittleEndian.Uint32(entry[12:16])
	compressed := entry[16]&flagCompressed != 0

	buf := make([]byte, storedLen)
	if _, err := s.dataFile.ReadAt(buf, off); err != nil {
		return ReadResult{Ready: false, Cause: err}
	}

	if !compressed {
		return ReadResult{Ready: true, Bytes: buf}
	}
	raw, err := s.decoder.DecodeAll(buf, make([]byte, 0, rawLen))
	if err != nil {
		return ReadResult{Ready: false, Cause: err}
	}
	return ReadResult{Ready: true, Bytes: raw}
}

// Flush syncs both backing files.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dataFile.Sync(); err != nil {
		return err
	}
	return s.indexFile.Sync()
}

// Close releases the encoder/decoder and closes both backing files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoder.Close()
	s.decoder.Close()
	if err := s.dataFile.Close(); err != nil {
		return err
	}
	return s.indexFile.Close()
}
