package snapshot

import (
	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/vfsmodel"
)

// Build walks it backward from its current position under filler's policy,
// filling each (fileId, field) or (fileId, attrKey) the first time it's
// encountered (i.e. at its most recent write) and stopping once the
// iterator is exhausted or poisoned by an Invalid record.
//
// it is consumed: callers that need the log position afterward should read
// it.Position() once Build returns, or pass a Copy().
func Build(it *oplog.Iterator, filler Filler) *VfsSnapshot {
	mask := filler.mask()
	snap := New()
	for it.HasPrevious() {
		res := it.PreviousFiltered(mask)
		switch res.Outcome {
		case oplog.Complete:
			applyOperation(snap, filler, res.Op)
		case oplog.Incomplete:
			// Either filtered out by mask, or a torn write near the tail of
			// a log that's still accepting appends; neither stops the walk.
		case oplog.Invalid:
			// The iterator has poisoned itself; nothing earlier is reachable.
			return snap
		}
	}
	return snap
}

func applyOperation(snap *VfsSnapshot, filler Filler, op oplog.Operation) {
	if op.Exceptional || !filler.matches(op) {
		return
	}
	if op.Tag == oplog.TagSetAttribute {
		snap.fillAttribute(op.FileID, op.AttrKey, op.PayloadRef)
		return
	}
	field := op.Field()
	snap.fillField(op.FileID, field, func(rec *vfsmodel.FileRecord) {
		switch field {
		case vfsmodel.FieldParentID:
			rec.ParentID = op.NewParentID
		case vfsmodel.FieldNameID:
			rec.NameID = op.NewNameID
		case vfsmodel.FieldLength:
			rec.Length = op.NewLength
		case vfsmodel.FieldTimestamp:
			rec.Timestamp = op.NewTimestamp
		case vfsmodel.FieldFlags:
			rec.Flags = op.NewFlags
		case vfsmodel.FieldContentID:
			rec.ContentID = op.NewContentID
		}
	})
}
