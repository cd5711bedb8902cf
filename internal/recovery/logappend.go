package recovery

import "vfsrecovery/internal/oplog"

// appendSyntheticOp writes a bookkeeping operation (produced by recovery
// itself, never replayed from the source log) to the destination log.
// Stage 2 uses this to record the SetContentRecordId/SetFlags pair it must
// leave behind for a file whose content could not be recovered.
func appendSyntheticOp(log *oplog.Storage, op oplog.Operation) error {
	encoded := oplog.Encode(op)
	contentLen := 0
	if op.Tag == oplog.TagContent {
		contentLen = len(op.ContentBytes)
	}
	slot, err := log.AppendReservation(op.Tag, contentLen)
	if err != nil {
		return err
	}
	if _, err := slot.Write(encoded); err != nil {
		return err
	}
	return slot.Close()
}
