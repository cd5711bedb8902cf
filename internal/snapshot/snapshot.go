package snapshot

import (
	"sort"
	"time"

	"vfsrecovery/internal/vfsmodel"
)

// fileEntry tracks, per fileId, the scalar fields filled so far and which
// ones were actually touched (vs. zero-valued because never written).
type fileEntry struct {
	rec vfsmodel.FileRecord
	has map[vfsmodel.Field]bool
}

// VfsSnapshot is the reconstructed view Build produces: a
// sparse map of fileId to whatever scalar fields and attributes a backward
// log replay encountered, each kept at its first (i.e. most recent) write.
type VfsSnapshot struct {
	entries map[vfsmodel.FileID]*fileEntry
}

// New returns an empty snapshot, ready to be filled by an engine or merged
// via PrecededBy.
func New() *VfsSnapshot {
	return &VfsSnapshot{entries: make(map[vfsmodel.FileID]*fileEntry)}
}

func (s *VfsSnapshot) entryFor(id vfsmodel.FileID) *fileEntry {
	e, ok := s.entries[id]
	if !ok {
		e = &fileEntry{rec: vfsmodel.FileRecord{ID: id}, has: make(map[vfsmodel.Field]bool)}
		s.entries[id] = e
	}
	return e
}

// Has reports whether field has been filled for id.
func (s *VfsSnapshot) Has(id vfsmodel.FileID, field vfsmodel.Field) bool {
	e, ok := s.entries[id]
	return ok && e.has[field]
}

// FileIDs returns every fileId the snapshot has any information about, in
// ascending order.
func (s *VfsSnapshot) FileIDs() []vfsmodel.FileID {
	ids := make([]vfsmodel.FileID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MissingFields reports which of want were never filled for id.
func (s *VfsSnapshot) MissingFields(id vfsmodel.FileID, want []vfsmodel.Field) []vfsmodel.Field {
	e, ok := s.entries[id]
	var missing []vfsmodel.Field
	for _, f := range want {
		if !ok || !e.has[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func (s *VfsSnapshot) ParentID(id vfsmodel.FileID) (vfsmodel.FileID, bool) {
	e, ok := s.entries[id]
	if !ok || !e.has[vfsmodel.FieldParentID] {
		return 0, false
	}
	return e.rec.ParentID, true
}

func (s *VfsSnapshot) NameID(id vfsmodel.FileID) (vfsmodel.NameID, bool) {
	e, ok := s.entries[id]
	if !ok || !e.has[vfsmodel.FieldNameID] {
		return 0, false
	}
	return e.rec.NameID, true
}

func (s *VfsSnapshot) Length(id vfsmodel.FileID) (uint64, bool) {
	e, ok := s.entries[id]
	if !ok || !e.has[vfsmodel.FieldLength] {
		return 0, false
	}
	return e.rec.Length, true
}

func (s *VfsSnapshot) Timestamp(id vfsmodel.FileID) (time.Time, bool) {
	e, ok := s.entries[id]
	if !ok || !e.has[vfsmodel.FieldTimestamp] {
		return time.Time{}, false
	}
	return e.rec.Timestamp, true
}

func (s *VfsSnapshot) Flags(id vfsmodel.FileID) (vfsmodel.Flags, bool) {
	e, ok := s.entries[id]
	if !ok || !e.has[vfsmodel.FieldFlags] {
		return 0, false
	}
	return e.rec.Flags, true
}

func (s *VfsSnapshot) ContentID(id vfsmodel.FileID) (vfsmodel.ContentID, bool) {
	e, ok := s.entries[id]
	if !ok || !e.has[vfsmodel.FieldContentID] {
		return 0, false
	}
	return e.rec.ContentID, true
}

// Attribute returns the payload handle a fileId's attrKey was last set to.
func (s *VfsSnapshot) Attribute(id vfsmodel.FileID, key vfsmodel.AttrKey) (vfsmodel.ContentID, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	v, ok := e.rec.Attributes[key]
	return v, ok
}

// Attributes returns every attribute accumulated for id. The returned map is
// owned by the snapshot and must not be mutated by the caller.
func (s *VfsSnapshot) Attributes(id vfsmodel.FileID) map[vfsmodel.AttrKey]vfsmodel.ContentID {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	return e.rec.Attributes
}

// fillField sets field on id's record unless it was already filled,
// returning whether it newly filled it.
func (s *VfsSnapshot) fillField(id vfsmodel.FileID, field vfsmodel.Field, apply func(*vfsmodel.FileRecord)) bool {
	e := s.entryFor(id)
	if e.has[field] {
		return false
	}
	apply(&e.rec)
	e.has[field] = true
	return true
}

// fillAttribute sets (id, key) to ref unless it was already set.
func (s *VfsSnapshot) fillAttribute(id vfsmodel.FileID, key vfsmodel.AttrKey, ref vfsmodel.ContentID) bool {
	e := s.entryFor(id)
	if e.rec.Attributes == nil {
		e.rec.Attributes = make(map[vfsmodel.AttrKey]vfsmodel.ContentID)
	}
	if _, ok := e.rec.Attributes[key]; ok {
		return false
	}
	e.rec.Attributes[key] = ref
	return true
}

// applyFieldValue copies field's value from src into dst.
func applyFieldValue(dst *vfsmodel.FileRecord, field vfsmodel.Field, src vfsmodel.FileRecord) {
	switch field {
	case vfsmodel.FieldParentID:
		dst.ParentID = src.ParentID
	case vfsmodel.FieldNameID:
		dst.NameID = src.NameID
	case vfsmodel.FieldLength:
		dst.Length = src.Length
	case vfsmodel.FieldTimestamp:
		dst.Timestamp = src.Timestamp
	case vfsmodel.FieldFlags:
		dst.Flags = src.Flags
	case vfsmodel.FieldContentID:
		dst.ContentID = src.ContentID
	}
}

func copyHasSet(h map[vfsmodel.Field]bool) map[vfsmodel.Field]bool {
	out := make(map[vfsmodel.Field]bool, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// PrecededBy returns a new snapshot combining s with an older baseline:
// anything s left unfilled for a fileId (scalar field or attribute key) is
// backfilled from older. s's own values always win on conflict. Used to
// layer a live backward replay over a previously compacted snapshot instead
// of replaying the whole log from the start every time.
func (s *VfsSnapshot) PrecededBy(older *VfsSnapshot) *VfsSnapshot {
	out := New()
	for id, e := range s.entries {
		out.entries[id] = &fileEntry{rec: e.rec.Copy(), has: copyHasSet(e.has)}
	}
	if older == nil {
		return out
	}
	for id, oe := range older.entries {
		ne, ok := out.entries[id]
		if !ok {
			out.entries[id] = &fileEntry{rec: oe.rec.Copy(), has: copyHasSet(oe.has)}
			continue
		}
		for _, f := range vfsmodel.AllFields {
			if !ne.has[f] && oe.has[f] {
				applyFieldValue(&ne.rec, f, oe.rec)
				ne.has[f] = true
			}
		}
		if len(oe.rec.Attributes) == 0 {
			continue
		}
		if ne.rec.Attributes == nil {
			ne.rec.Attributes = make(map[vfsmodel.AttrKey]vfsmodel.ContentID, len(oe.rec.Attributes))
		}
		for k, v := range oe.rec.Attributes {
			if _, exists := ne.rec.Attributes[k]; !exists {
				ne.rec.Attributes[k] = v
			}
		}
	}
	return out
}
