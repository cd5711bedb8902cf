// Package records implements FSRecords: the fixed-stride, direct-addressed
// file record table a RecoveryOrchestrator builds fresh at the destination
// cache directory. Each fileId maps to one fixed-size row via ReadAt/WriteAt
// (no in-memory row cache — row count is expected to scale with the number
// of files in the recovered VFS), grounded on the teacher's idx.log
// (header + fixed-stride-entry file) shape in chunk/file/manager.go.
package records

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vfsrecovery/internal/format"
	"vfsrecovery/internal/payload"
	"vfsrecovery/internal/vfsmodel"
)

const (
	recordsFileName = "records"

	// headerSize is format.HeaderSize plus an 8-byte creation timestamp
	// (UnixNano), copied verbatim from the old records file at Finalization
	// to preserve VFS identity across a recovery.
	headerSize = format.HeaderSize + 8
)

var (
	ErrNotAllocated  = errors.New("records: fileId has no row")
	ErrNonDenseAlloc = errors.New("records: content allocation is not dense")
)

// Store is FSRecords.
type Store struct {
	mu sync.Mutex

	recordsFile *os.File
	maxFileID   vfsmodel.FileID

	attrs   *attrStore
	content *payload.Store
}

// Open creates (or opens) a fresh FSRecords rooted at dir. Inside dir it
// also opens an "attributes" file and a "content" directory for the
// attribute and content backing stores.
func Open(dir string, contentCompressionMinSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("records: create dir: %w", err)
	}

	recordsPath := filepath.Join(dir, recordsFileName)
	f, err := os.OpenFile(recordsPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("records: open records file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		hdr := format.Header{Type: format.TypeRecordsFile, Version: 1}
		buf := make([]byte, headerSize)
		hdr.EncodeInto(buf)
		if _, err := f.WriteAt(buf, 0); err != nil {
			return nil, fmt.Errorf("records: write header: %w", err)
		}
		info, err = f.Stat()
		if err != nil {
			return nil, err
		}
	}
	maxFileID := vfsmodel.FileID((info.Size() - headerSize) / rowSize)

	attrs, err := openAttrStore(filepath.Join(dir, "attributes"))
	if err != nil {
		f.Close()
		return nil, err
	}

	content, err := payload.Open(filepath.Join(dir, "content"), contentCompressionMinSize)
	if err != nil {
		f.Close()
		attrs.close()
		return nil, err
	}

	return &Store{
		recordsFile: f,
		maxFileID:   maxFileID,
		attrs:       attrs,
		content:     content,
	}, nil
}

// MaxFileID returns the highest fileId with an allocated row.
func (s *Store) MaxFileID() vfsmodel.FileID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxFileID
}

func rowOffset(id vfsmodel.FileID) int64 {
	return headerSize + int64(id-1)*rowSize
}

// fillRecord writes fileId's scalar fields and marks it INITIALIZED. When
// overwrite is false, an existing non-UNDEFINED row is left untouched.
func (s *Store) fillRecord(id vfsmodel.FileID, timestamp time.Time, length uint64, flags vfsmodel.Flags, nameID vfsmodel.NameID, parentID vfsmodel.FileID, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, state, err := s.readRowLocked(id)
	if err != nil && !errors.Is(err, ErrNotAllocated) {
		return err
	}
	if !overwrite && state != vfsmodel.StateUndefined {
		return nil
	}

	rec := vfsmodel.FileRecord{
		ID:        id,
		ParentID:  parentID,
		NameID:    nameID,
		Length:    length,
		Timestamp: timestamp,
		Flags:     flags,
		// Preserve a content id already bound by AllocateContentRecordAndStore
		// or BindContent; fillRecord only touches scalar fields.
		ContentID: existing.ContentID,
	}
	return s.writeRowLocked(rec, vfsmodel.StateInitialized)
}

// FillRecord is the exported form of fillRecord, used by RecoveryOrchestrator
// Stage 2.
func (s *Store) FillRecord(id vfsmodel.FileID, timestamp time.Time, length uint64, flags vfsmodel.Flags, nameID vfsmodel.NameID, parentID vfsmodel.FileID, overwrite bool) error {
	return s.fillRecord(id, timestamp, length, flags, nameID, parentID, overwrite)
}

// BindContent sets fileId's contentId without otherwise disturbing its row.
// If the row doesn't exist yet, it's created as INITIALIZED with zeroed
// scalar fields (the caller is expected to fillRecord separately).
func (s *Store) BindContent(id vfsmodel.FileID, contentID vfsmodel.ContentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, state, err := s.readRowLocked(id)
	if err != nil && !errors.Is(err, ErrNotAllocated) {
		return err
	}
	if state == vfsmodel.StateUndefined {
		rec = vfsmodel.FileRecord{ID: id}
		state = vfsmodel.StateInitialized
	}
	rec.ContentID = contentID
	return s.writeRowLocked(rec, state)
}

// SetFlags overwrites fileId's flags in place.
func (s *Store) SetFlags(id vfsmodel.FileID, flags vfsmodel.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, state, err := s.readRowLocked(id)
	if err != nil {
		return err
	}
	rec.Flags = flags
	return s.writeRowLocked(rec, state)
}

// SetState transitions fileId's RecoveryState.
func (s *Store) SetState(id vfsmodel.FileID, state vfsmodel.RecoveryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _, err := s.readRowLocked(id)
	if err != nil {
		return err
	}
	return s.writeRowLocked(rec, state)
}

// State reports fileId's current RecoveryState.
func (s *Store) State(id vfsmodel.FileID) (vfsmodel.RecoveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, state, err := s.readRowLocked(id)
	return state, err
}

// Record reads fileId's full row, including its attribute map.
func (s *Store) Record(id vfsmodel.FileID) (vfsmodel.FileRecord, vfsmodel.RecoveryState, error) {
	s.mu.Lock()
	rec, state, err := s.readRowLocked(id)
	s.mu.Unlock()
	if err != nil {
		return vfsmodel.FileRecord{}, state, err
	}
	rec.Attributes = s.attrs.attributesFor(id)
	return rec, state, nil
}

func (s *Store) readRowLocked(id vfsmodel.FileID) (vfsmodel.FileRecord, vfsmodel.RecoveryState, error) {
	if id < 1 || id > s.maxFileID {
		return vfsmodel.FileRecord{}, vfsmodel.StateUndefined, ErrNotAllocated
	}
	buf := make([]byte, rowSize)
	if _, err := s.recordsFile.ReadAt(buf, rowOffset(id)); err != nil {
		return vfsmodel.FileRecord{}, vfsmodel.StateUndefined, err
	}
	rec, state := decodeRow(buf)
	return rec, state, nil
}

func (s *Store) writeRowLocked(rec vfsmodel.FileRecord, state vfsmodel.RecoveryState) error {
	buf := make([]byte, rowSize)
	encodeRow(buf, rec, state)
	if _, err := s.recordsFile.WriteAt(buf, rowOffset(rec.ID)); err != nil {
		return fmt.Errorf("records: write row %d: %w", rec.ID, err)
	}
	if rec.ID > s.maxFileID {
		s.maxFileID = rec.ID
	}
	return nil
}

// SetAttribute writes the payload handle for (fileId, key). Used for both
// ordinary attributes and the reserved children-list key.
func (s *Store) SetAttribute(id vfsmodel.FileID, key vfsmodel.AttrKey, ref vfsmodel.ContentID) error {
	return s.attrs.set(id, key, ref)
}

// Attribute reads back the payload handle for (fileId, key).
func (s *Store) Attribute(id vfsmodel.FileID, key vfsmodel.AttrKey) (vfsmodel.ContentID, bool) {
	return s.attrs.get(id, key)
}

// AllocateContentRecordAndStore appends data to the content store and
// returns its id. Stage 1 asserts this equals the payload id it's
// replaying, since both stores are built densely from id 1.
func (s *Store) AllocateContentRecordAndStore(data []byte) (vfsmodel.ContentID, error) {
	id, err := s.content.Append(data)
	if err != nil {
		return 0, err
	}
	return vfsmodel.ContentID(id), nil
}

// ReadContent resolves a contentId through the destination content store.
func (s *Store) ReadContent(id vfsmodel.ContentID) payload.ReadResult {
	return s.content.ReadAt(payload.ID(id))
}

// SetCreationTimestamp writes ts into the header, preserving VFS identity
// across a recovery. Called once during Finalization.
func (s *Store) SetCreationTimestamp(ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	_, err := s.recordsFile.WriteAt(buf[:], format.HeaderSize)
	return err
}

// ReadCreationTimestamp reads the creation timestamp out of an existing
// records file at dir without opening a full Store. Used by Finalization to
// carry the old records file's identity into the new one.
func ReadCreationTimestamp(dir string) (time.Time, error) {
	f, err := os.Open(filepath.Join(dir, recordsFileName))
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], format.HeaderSize); err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(binary.LittleEndian.Uint64(buf[:]))).UTC(), nil
}

// Flush syncs the records table and its attribute/content backing stores.
func (s *Store) Flush() error {
	s.mu.Lock()
	if err := s.recordsFile.Sync(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	if err := s.attrs.flush(); err != nil {
		return err
	}
	return s.content.Flush()
}

// Close releases every backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	err := s.recordsFile.Close()
	s.mu.Unlock()
	if attrErr := s.attrs.close(); attrErr != nil && err == nil {
		err = attrErr
	}
	if contentErr := s.content.Close(); contentErr != nil && err == nil {
		err = contentErr
	}
	return err
}
