package recovery

import (
	"fmt"

	"vfsrecovery/internal/vfsmodel"
)

// stage4MarkUnused sweeps every allocated fileId: anything Stage 3 never
// reached stays reachable from no root, so it is marked unused and freed.
// A write failure here botches the record rather than aborting recovery —
// the id is already in an unreachable state either way.
func stage4MarkUnused(rc *RecoveryContext, maxFileID vfsmodel.FileID, result *RecoveryResult) error {
	for id := vfsmodel.FileID(1); id <= maxFileID; id++ {
		state, err := rc.rec.State(id)
		if err != nil {
			return fatal("stage4", fmt.Errorf("fileId %d: %w", id, err))
		}
		if state == vfsmodel.StateConnected || state == vfsmodel.StateBotched {
			continue
		}

		rec, _, err := rc.rec.Record(id)
		if err != nil {
			return fatal("stage4", fmt.Errorf("fileId %d: %w", id, err))
		}

		if err := rc.rec.SetFlags(id, rec.Flags|vfsmodel.FlagFree); err != nil {
			if setErr := rc.rec.SetState(id, vfsmodel.StateBotched); setErr != nil {
				return fatal("stage4", fmt.Errorf("fileId %d: %w", id, setErr))
			}
			continue
		}
		if err := rc.rec.SetState(id, vfsmodel.StateUnused); err != nil {
			return fatal("stage4", fmt.Errorf("fileId %d: %w", id, err))
		}
	}
	return nil
}

// tallyFileStateCounts reads every allocated id's final state once, after
// Stage 4, rather than accumulating counts incrementally through Stages
// 2-4 where a record's state can still change more than once.
func tallyFileStateCounts(rc *RecoveryContext, maxFileID vfsmodel.FileID, result *RecoveryResult) error {
	for id := vfsmodel.FileID(1); id <= maxFileID; id++ {
		state, err := rc.rec.State(id)
		if err != nil {
			return fatal("stage4", fmt.Errorf("fileId %d: %w", id, err))
		}
		result.FileStateCounts[state]++
	}
	return nil
}
