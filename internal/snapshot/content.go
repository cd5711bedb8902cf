package snapshot

import "vfsrecovery/internal/oplog"

// ContentMask selects only TagContent records, for the forward content-only
// walk Stage 1 uses to repopulate the payload store. ContentOperation
// carries no fileId, so it cannot be folded into a per-file VfsSnapshot the
// way RecordsOperation/AttributesOperation are — it is replayed on its own.
var ContentMask = oplog.NewTagMask(oplog.TagContent)

// NextContent advances it forward to the next non-exceptional content
// write. ok is false once the iterator reaches its upper bound or hits a
// record it can't make sense of (Invalid): the latter marks the end of the
// recoverable content run, matching the "stop at first unavailable id"
// behavior Stage 1 needs.
func NextContent(it *oplog.Iterator) (op oplog.Operation, ok bool) {
	for it.HasNext() {
		res := it.NextFiltered(ContentMask)
		switch res.Outcome {
		case oplog.Complete:
			if res.Op.Exceptional {
				continue // the source content write failed; nothing to recover
			}
			return res.Op, true
		case oplog.Incomplete:
			continue // filtered out, or a torn write still being appended
		case oplog.Invalid:
			return oplog.Operation{}, false
		}
	}
	return oplog.Operation{}, false
}
