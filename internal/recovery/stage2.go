package recovery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"vfsrecovery/internal/enum"
	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/snapshot"
	"vfsrecovery/internal/vfsmodel"
)

// stage2Concurrency bounds how many chunk snapshots Stage 2 builds and
// drains at once. records.Store serializes its own writes internally, so
// chunks never need to coordinate beyond that; this only bounds how much
// snapshot memory is live simultaneously, the same role logAppendWorkers
// plays for the log's own write-worker pool.
const stage2Concurrency = 4

// recordTagMask covers every RecordsOperation and AttributesOperation tag:
// everything that can move a fileId, used both to find the highest
// allocated fileId and to build Stage 2's per-chunk snapshots.
var recordTagMask = oplog.NewTagMask(
	oplog.TagSetParentID, oplog.TagSetNameID, oplog.TagSetLength,
	oplog.TagSetTimestamp, oplog.TagSetFlags, oplog.TagSetContentID,
	oplog.TagSetAttribute,
)

// findMaxFileID walks the log backward once, tracking only the largest
// fileId any RecordsOperation/AttributesOperation touches. A full
// unconstrained snapshot would defeat Stage 2's whole reason for chunking,
// so this pass keeps no per-file state at all.
func findMaxFileID(log *oplog.Storage) vfsmodel.FileID {
	it := oplog.NewIterator(log, log.Size())
	var max vfsmodel.FileID
	for it.HasPrevious() {
		res := it.PreviousFiltered(recordTagMask)
		switch res.Outcome {
		case oplog.Complete:
			if res.Op.FileID > max {
				max = res.Op.FileID
			}
		case oplog.Incomplete:
			continue
		case oplog.Invalid:
			return max
		}
	}
	return max
}

// stage2RecordInit walks fileIds 1..maxFileID in chunks, building a
// scalar+attribute snapshot per chunk so memory stays bounded regardless of
// how large the recovered tree is.
func stage2RecordInit(rc *RecoveryContext, maxFileID vfsmodel.FileID, lastRecoveredContentID vfsmodel.ContentID, result *RecoveryResult) error {
	logEnd := rc.log.Size()
	chunkSize := vfsmodel.FileID(rc.tun.RecordsInitChunkSize)
	if chunkSize == 0 {
		chunkSize = 750_000
	}

	filler := snapshot.Sum(snapshot.AllScalarFieldsFiller(), snapshot.AttributesFiller())

	sem := semaphore.NewWeighted(stage2Concurrency)
	group, groupCtx := errgroup.WithContext(context.Background())

	for chunkStart := vfsmodel.FileID(1); chunkStart <= maxFileID; chunkStart += chunkSize {
		chunkStart, chunkEnd := chunkStart, chunkStart+chunkSize-1
		if chunkEnd > maxFileID {
			chunkEnd = maxFileID
		}

		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)

			it := oplog.NewIterator(rc.log, logEnd)
			snap := snapshot.Build(it, filler.Constrain(snapshot.InFileIDRange(chunkStart, chunkEnd)))

			for id := chunkStart; id <= chunkEnd; id++ {
				if err := stage2InitOne(rc, snap, id, lastRecoveredContentID, result); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return group.Wait()
}

func stage2InitOne(rc *RecoveryContext, snap *snapshot.VfsSnapshot, id vfsmodel.FileID, lastRecoveredContentID vfsmodel.ContentID, result *RecoveryResult) error {
	if id == vfsmodel.SuperRootID {
		if err := rc.rec.FillRecord(id, time.Time{}, 0, 0, 0, 0, true); err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
		}
		return nil
	}

	if missing := snap.MissingFields(id, vfsmodel.AllFields); len(missing) > 0 {
		if err := rc.rec.FillRecord(id, time.Time{}, 0, 0, 0, 0, true); err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
		}
		if err := rc.rec.SetState(id, vfsmodel.StateBotched); err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
		}
		return nil
	}

	flags, _ := snap.Flags(id)
	ts, _ := snap.Timestamp(id)
	length, _ := snap.Length(id)
	nameID, _ := snap.NameID(id)
	parentID, _ := snap.ParentID(id)

	if flags.Has(vfsmodel.FlagFree) {
		if err := rc.rec.FillRecord(id, ts, length, flags, nameID, parentID, true); err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
		}
		if err := rc.rec.SetState(id, vfsmodel.StateUnused); err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
		}
		return nil
	}

	if err := rc.rec.FillRecord(id, ts, length, flags, nameID, parentID, true); err != nil {
		return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
	}

	if contentID, ok := snap.ContentID(id); ok && contentID != 0 {
		if contentID <= lastRecoveredContentID {
			if err := rc.rec.BindContent(id, contentID); err != nil {
				return fatal("stage2", fmt.Errorf("fileId %d: bind content: %w", id, err))
			}
			result.addRecoveredContent()
		} else {
			newFlags := flags | vfsmodel.FlagMustReloadContent | vfsmodel.FlagMustReloadLength
			if err := rc.rec.SetFlags(id, newFlags); err != nil {
				return fatal("stage2", fmt.Errorf("fileId %d: %w", id, err))
			}
			if err := appendSyntheticOp(rc.log, oplog.Operation{Tag: oplog.TagSetContentID, FileID: id, NewContentID: 0}); err != nil {
				return fatal("stage2", fmt.Errorf("fileId %d: record lost content: %w", id, err))
			}
			if err := appendSyntheticOp(rc.log, oplog.Operation{Tag: oplog.TagSetFlags, FileID: id, NewFlags: newFlags}); err != nil {
				return fatal("stage2", fmt.Errorf("fileId %d: record lost content flags: %w", id, err))
			}
			result.addLostContent()
		}
	}

	return stage2RecoverAttributes(rc, snap, id, result)
}

// stage2RecoverAttributes resolves every non-children attribute's payload
// through the destination's own content store — Stage 1 guarantees the new
// store's ids line up with the log's for everything recoverable, so there
// is never a separate attribute-payload store to consult. An I/O failure
// is fatal; a decode/logic failure only botches the file.
func stage2RecoverAttributes(rc *RecoveryContext, snap *snapshot.VfsSnapshot, id vfsmodel.FileID, result *RecoveryResult) error {
	for key, ref := range snap.Attributes(id) {
		if key == enum.ChildrenAttrKey {
			continue
		}

		desc, ok := rc.attrs.Resolve(key)
		if !ok {
			result.addBotchedAttribute()
			continue
		}

		res := rc.rec.ReadContent(ref)
		if !res.Ready {
			if res.Cause != nil {
				return fatal("stage2", fmt.Errorf("fileId %d: attribute %q: %w", id, desc.Name, res.Cause))
			}
			result.addBotchedAttribute()
			continue
		}

		payload := res.Bytes
		if desc.Versioned {
			if len(payload) < 1 {
				result.addBotchedAttribute()
				continue
			}
			payload = payload[1:]
		}

		newRef, err := rc.rec.AllocateContentRecordAndStore(payload)
		if err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: attribute %q: store: %w", id, desc.Name, err))
		}
		if err := rc.rec.SetAttribute(id, key, newRef); err != nil {
			return fatal("stage2", fmt.Errorf("fileId %d: attribute %q: %w", id, desc.Name, err))
		}
		result.addRecoveredAttribute()
	}
	return nil
}
