package snapshot

import (
	"encoding/binary"
	"fmt"

	"vfsrecovery/internal/vfsmodel"
)

// ChildEntry is one (name, fileId) pair out of a parent's children-list
// attribute payload.
type ChildEntry struct {
	NameID vfsmodel.NameID
	FileID vfsmodel.FileID
}

// DecodeChildren parses a children-list attribute payload: an optional
// leading version byte (present iff the attribute key is Versioned),
// followed by a varint entry count, followed by that many (nameId,
// fileId-delta) pairs. nameIds are plain unsigned varints; fileIds are
// zigzag-delta-encoded against the previous entry, the first delta taken
// against base (the parent's own fileId, per the attribute being "keyed
// off fileId"), since a directory's children are usually allocated in
// nearby id ranges.
func DecodeChildren(payload []byte, versioned bool, base vfsmodel.FileID) ([]ChildEntry, error) {
	buf := payload
	if versioned {
		if len(buf) < 1 {
			return nil, fmt.Errorf("snapshot: children payload missing version byte")
		}
		buf = buf[1:]
	}
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, fmt.Errorf("snapshot: children payload: bad count varint")
	}
	buf = buf[n:]

	entries := make([]ChildEntry, 0, count)
	prevFileID := int64(base)
	for i := uint64(0); i < count; i++ {
		nameID, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("snapshot: children payload: bad nameId varint at entry %d", i)
		}
		buf = buf[n:]

		delta, n := binary.Varint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("snapshot: children payload: bad fileId delta at entry %d", i)
		}
		buf = buf[n:]

		prevFileID += delta
		entries = append(entries, ChildEntry{
			NameID: vfsmodel.NameID(nameID),
			FileID: vfsmodel.FileID(prevFileID),
		})
	}
	return entries, nil
}

// EncodeChildren is DecodeChildren's inverse. Entries are encoded in the
// order given; callers that want deterministic output should sort first.
func EncodeChildren(entries []ChildEntry, versioned bool, base vfsmodel.FileID) []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64*(1+2*len(entries)))
	if versioned {
		buf = append(buf, 1)
	}

	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(entries)))
	buf = append(buf, scratch[:n]...)

	prevFileID := int64(base)
	for _, e := range entries {
		n := binary.PutUvarint(scratch[:], uint64(e.NameID))
		buf = append(buf, scratch[:n]...)

		delta := int64(e.FileID) - prevFileID
		prevFileID = int64(e.FileID)
		n = binary.PutVarint(scratch[:], delta)
		buf = append(buf, scratch[:n]...)
	}
	return buf
}
