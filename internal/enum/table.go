package enum

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"vfsrecovery/internal/vfsmodel"
)

// fileTable is the shared append-only, length-prefixed string log backing
// both FileNameTable and FileAttrTable. Each entry is: len:u16, bytes,
// meta:u8. IDs are dense, 1-based, assigned in append order.
type fileTable struct {
	mu      sync.Mutex
	f       *os.File
	byID    []string
	metaOf  []byte
	byName  map[string]int // name -> 0-based index
}

func openFileTable(path string) (*fileTable, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("enum: open %s: %w", path, err)
	}
	t := &fileTable{f: f, byName: make(map[string]int)}
	if err := t.load(); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *fileTable) load() error {
	info, err := t.f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	var off int64
	for off < size {
		var lenBuf [2]byte
		if _, err := t.f.ReadAt(lenBuf[:], off); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint16(lenBuf[:])
		buf := make([]byte, n+1)
		if _, err := t.f.ReadAt(buf, off+2); err != nil {
			return err
		}
		name := string(buf[:n])
		meta := buf[n]
		t.byID = append(t.byID, name)
		t.metaOf = append(t.metaOf, meta)
		t.byName[name] = len(t.byID) - 1
		off += 2 + int64(n) + 1
	}
	return nil
}

// intern appends name with the given metadata byte if not already present,
// returning its 1-based id either way.
func (t *fileTable) intern(name string, meta byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byName[name]; ok {
		return idx + 1
	}

	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(name)))
	entry := make([]byte, 0, 2+len(name)+1)
	entry = append(entry, lenBuf[:]...)
	entry = append(entry, name...)
	entry = append(entry, meta)

	off, err := t.f.Seek(0, io.SeekEnd)
	if err == nil {
		t.f.WriteAt(entry, off)
	}

	t.byID = append(t.byID, name)
	t.metaOf = append(t.metaOf, meta)
	idx := len(t.byID) - 1
	t.byName[name] = idx
	return idx + 1
}

func (t *fileTable) resolve(id int) (string, byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 1 || id > len(t.byID) {
		return "", 0, false
	}
	return t.byID[id-1], t.metaOf[id-1], true
}

func (t *fileTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

func (t *fileTable) close() error { return t.f.Close() }

// FileNameTable is a minimal file-backed NameTable.
type FileNameTable struct{ table *fileTable }

// OpenFileNameTable opens or creates a name interner file at path.
func OpenFileNameTable(path string) (*FileNameTable, error) {
	t, err := openFileTable(path)
	if err != nil {
		return nil, err
	}
	return &FileNameTable{table: t}, nil
}

func (n *FileNameTable) Resolve(id vfsmodel.NameID) (string, bool) {
	name, _, ok := n.table.resolve(int(id))
	return name, ok
}

func (n *FileNameTable) Intern(name string) vfsmodel.NameID {
	return vfsmodel.NameID(n.table.intern(name, 0))
}

func (n *FileNameTable) Count() int { return n.table.count() }

func (n *FileNameTable) Close() error { return n.table.close() }

// FileAttrTable is a minimal file-backed AttrTable. It reserves id 1 for
// ChildrenAttrKey at creation.
type FileAttrTable struct{ table *fileTable }

const childrenAttrName = "CHILDREN_ATTR"

// OpenFileAttrTable opens or creates an attribute interner file at path,
// pre-reserving ChildrenAttrKey if the file is new.
func OpenFileAttrTable(path string) (*FileAttrTable, error) {
	t, err := openFileTable(path)
	if err != nil {
		return nil, err
	}
	if t.count() == 0 {
		t.intern(childrenAttrName, 0)
	}
	return &FileAttrTable{table: t}, nil
}

func (a *FileAttrTable) Resolve(key vfsmodel.AttrKey) (AttrDescriptor, bool) {
	name, meta, ok := a.table.resolve(int(key))
	if !ok {
		return AttrDescriptor{}, false
	}
	return AttrDescriptor{Name: name, Versioned: meta != 0}, true
}

func (a *FileAttrTable) Intern(name string, versioned bool) vfsmodel.AttrKey {
	var meta byte
	if versioned {
		meta = 1
	}
	return vfsmodel.AttrKey(a.table.intern(name, meta))
}

func (a *FileAttrTable) Count() int { return a.table.count() }

func (a *FileAttrTable) Close() error { return a.table.close() }
