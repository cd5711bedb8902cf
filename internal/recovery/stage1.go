package recovery

import (
	"fmt"

	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/snapshot"
	"vfsrecovery/internal/vfsmodel"
)

// stage1ContentRecovery walks the copied (and already truncated) log
// forward, content id by content id, rebuilding the destination's content
// store purely from the TagContent descriptors embedded in the log itself
// — the source PayloadStore is never opened. Content ids are allocated
// densely from 1, so the next recoverable id is always
// lastRecoveredContentID+1; the first TagContent whose own recorded id
// skips ahead of that means the corresponding bytes never made it into the
// log before the cut point (or were never written at all), and recovery
// stops there without storing it.
func stage1ContentRecovery(rc *RecoveryContext) (lastRecoveredContentID vfsmodel.ContentID, recovered int, err error) {
	it := oplog.NewIterator(rc.log, rc.log.StartOffset())
	for {
		op, ok := snapshot.NextContent(it)
		if !ok {
			break
		}

		wantID := vfsmodel.ContentID(op.PayloadRef)
		if wantID != lastRecoveredContentID+1 {
			break
		}

		gotID, err := rc.rec.AllocateContentRecordAndStore(op.ContentBytes)
		if err != nil {
			return lastRecoveredContentID, recovered, fatal("stage1", fmt.Errorf("store content: %w", err))
		}
		if gotID != wantID {
			return lastRecoveredContentID, recovered, fatal("stage1", fmt.Errorf(
				"content allocation not dense: log recorded id %d, store assigned %d", wantID, gotID))
		}

		lastRecoveredContentID = gotID
		recovered++
	}
	return lastRecoveredContentID, recovered, nil
}
