package records

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"vfsrecovery/internal/vfsmodel"
)

// attrEntrySize is the fixed stride of one attribute row: fileId(8),
// attrKey(4), payloadRef(8).
const attrEntrySize = 8 + 4 + 8

type attrFileKey struct {
	id  vfsmodel.FileID
	key vfsmodel.AttrKey
}

// attrStore is an append-only, fixed-stride (fileId, attrKey) -> payloadRef
// table, fully indexed in memory on open. A fresh FSRecords only ever sets
// an attribute once per (fileId, key) during a single recovery pass, so
// append-only with an in-memory index (mirroring internal/enum's fileTable)
// is simpler than an update-in-place scheme.
type attrStore struct {
	mu    sync.Mutex
	f     *os.File
	count int64
	index map[attrFileKey]vfsmodel.ContentID
	byID  map[vfsmodel.FileID]map[vfsmodel.AttrKey]vfsmodel.ContentID
}

func openAttrStore(path string) (*attrStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("records: open attribute file: %w", err)
	}
	s := &attrStore{
		f:     f,
		index: make(map[attrFileKey]vfsmodel.ContentID),
		byID:  make(map[vfsmodel.FileID]map[vfsmodel.AttrKey]vfsmodel.ContentID),
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *attrStore) load() error {
	info, err := s.f.Stat()
	if err != nil {
		return err
	}
	count := info.Size() / attrEntrySize
	buf := make([]byte, attrEntrySize)
	for i := int64(0); i < count; i++ {
		if _, err := s.f.ReadAt(buf, i*attrEntrySize); err != nil {
			return err
		}
		id := vfsmodel.FileID(binary.LittleEndian.Uint64(buf[0:8]))
		key := vfsmodel.AttrKey(binary.LittleEndian.Uint32(buf[8:12]))
		ref := vfsmodel.ContentID(binary.LittleEndian.Uint64(buf[12:20]))
		s.recordLocked(id, key, ref)
	}
	s.count = count
	return nil
}

func (s *attrStore) recordLocked(id vfsmodel.FileID, key vfsmodel.AttrKey, ref vfsmodel.ContentID) {
	s.index[attrFileKey{id, key}] = ref
	m, ok := s.byID[id]
	if !ok {
		m = make(map[vfsmodel.AttrKey]vfsmodel.ContentID)
		s.byID[id] = m
	}
	m[key] = ref
}

func (s *attrStore) set(id vfsmodel.FileID, key vfsmodel.AttrKey, ref vfsmodel.ContentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf [attrEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(key))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(ref))
	if _, err := s.f.WriteAt(buf[:], s.count*attrEntrySize); err != nil {
		return fmt.Errorf("records: write attribute: %w", err)
	}
	s.count++
	s.recordLocked(id, key, ref)
	return nil
}

func (s *attrStore) get(id vfsmodel.FileID, key vfsmodel.AttrKey) (vfsmodel.ContentID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.index[attrFileKey{id, key}]
	return ref, ok
}

// attributesFor returns a copy of every attribute recorded for id.
func (s *attrStore) attributesFor(id vfsmodel.FileID) map[vfsmodel.AttrKey]vfsmodel.ContentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byID[id]
	if len(m) == 0 {
		return nil
	}
	out := make(map[vfsmodel.AttrKey]vfsmodel.ContentID, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *attrStore) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Sync()
}

func (s *attrStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
