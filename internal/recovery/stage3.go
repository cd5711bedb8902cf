package recovery

import (
	"fmt"
	"sort"

	"vfsrecovery/internal/enum"
	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/snapshot"
	"vfsrecovery/internal/vfsmodel"
)

// maxLoggedDuplicateOffenders caps how many duplicate-name offenders Stage 3
// logs individually before collapsing the rest into a single summary line.
const maxLoggedDuplicateOffenders = 10

// stage3TreeReconstruction rebuilds the parent/child tree by BFS from the
// super-root, using the fresh records table Stage 2 just wrote as the
// candidate parent/child relation and the original log's CHILDREN_ATTR
// payloads to arbitrate duplicate names.
func stage3TreeReconstruction(rc *RecoveryContext, maxFileID vfsmodel.FileID, result *RecoveryResult) error {
	desc, ok := rc.attrs.Resolve(enum.ChildrenAttrKey)
	if !ok {
		return fatal("stage3", fmt.Errorf("children attribute key %d not registered in attribute interner", enum.ChildrenAttrKey))
	}

	childrenOf, err := candidateChildrenByParent(rc, maxFileID)
	if err != nil {
		return err
	}

	historical := snapshot.Build(oplog.NewIterator(rc.log, rc.log.Size()), snapshot.AttributesFiller())

	superRootHistorical, err := decodeHistoricalChildren(rc, historical, vfsmodel.SuperRootID, desc.Versioned)
	if err != nil {
		return fatal("stage3", err)
	}

	// The legacy quirk: some root children carry parentId 0 rather than 1.
	// Only admit those also named in the super-root's own historical
	// children list; everything else under parentId 0 is orphaned and
	// picked up by Stage 4.
	explicit := map[vfsmodel.FileID]bool{}
	for _, e := range superRootHistorical {
		explicit[e.FileID] = true
	}
	for _, id := range childrenOf[0] {
		if explicit[id] {
			childrenOf[vfsmodel.SuperRootID] = append(childrenOf[vfsmodel.SuperRootID], id)
		}
	}
	delete(childrenOf, 0)

	offenders := 0
	queue := []vfsmodel.FileID{vfsmodel.SuperRootID}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		var parentHistorical []snapshot.ChildEntry
		if parentID == vfsmodel.SuperRootID {
			parentHistorical = superRootHistorical
		} else {
			parentHistorical, err = decodeHistoricalChildren(rc, historical, parentID, desc.Versioned)
			if err != nil {
				return fatal("stage3", err)
			}
		}

		survivors, err := resolveChildren(rc, parentID, childrenOf[parentID], parentHistorical, result, &offenders)
		if err != nil {
			return err
		}

		sort.Slice(survivors, func(i, j int) bool { return survivors[i].FileID < survivors[j].FileID })

		payload := snapshot.EncodeChildren(survivors, desc.Versioned, parentID)
		ref, err := rc.rec.AllocateContentRecordAndStore(payload)
		if err != nil {
			return fatal("stage3", fmt.Errorf("fileId %d: store children attribute: %w", parentID, err))
		}
		if err := rc.rec.SetAttribute(parentID, enum.ChildrenAttrKey, ref); err != nil {
			return fatal("stage3", fmt.Errorf("fileId %d: write children attribute: %w", parentID, err))
		}
		if err := rc.rec.SetState(parentID, vfsmodel.StateConnected); err != nil {
			return fatal("stage3", fmt.Errorf("fileId %d: %w", parentID, err))
		}

		for _, child := range survivors {
			if err := rc.rec.SetState(child.FileID, vfsmodel.StateConnected); err != nil {
				return fatal("stage3", fmt.Errorf("fileId %d: %w", child.FileID, err))
			}
			queue = append(queue, child.FileID)
		}
	}

	if offenders > maxLoggedDuplicateOffenders {
		rc.logger.Warn("duplicate children truncated in log output",
			"logged", maxLoggedDuplicateOffenders, "total", offenders, "and more", offenders-maxLoggedDuplicateOffenders)
	}
	return nil
}

// candidateChildrenByParent groups every INITIALIZED fileId in
// [2,maxFileID] by its freshly written ParentID. FileId 1 (the super-root)
// is never its own candidate child.
func candidateChildrenByParent(rc *RecoveryContext, maxFileID vfsmodel.FileID) (map[vfsmodel.FileID][]vfsmodel.FileID, error) {
	byParent := map[vfsmodel.FileID][]vfsmodel.FileID{}
	for id := vfsmodel.SuperRootID + 1; id <= maxFileID; id++ {
		state, err := rc.rec.State(id)
		if err != nil {
			return nil, fatal("stage3", fmt.Errorf("fileId %d: %w", id, err))
		}
		if state != vfsmodel.StateInitialized {
			continue
		}
		rec, _, err := rc.rec.Record(id)
		if err != nil {
			return nil, fatal("stage3", fmt.Errorf("fileId %d: %w", id, err))
		}
		byParent[rec.ParentID] = append(byParent[rec.ParentID], id)
	}
	return byParent, nil
}

func decodeHistoricalChildren(rc *RecoveryContext, historical *snapshot.VfsSnapshot, parentID vfsmodel.FileID, versioned bool) ([]snapshot.ChildEntry, error) {
	ref, ok := historical.Attribute(parentID, enum.ChildrenAttrKey)
	if !ok {
		return nil, nil
	}
	res := rc.rec.ReadContent(ref)
	if !res.Ready {
		return nil, nil
	}
	payload := res.Bytes
	if versioned && len(payload) >= 1 {
		payload = payload[1:]
	}
	return snapshot.DecodeChildren(payload, false, parentID)
}

// resolveChildren groups parentID's candidate children by nameId and, for
// any name claimed by more than one candidate, keeps only the single
// candidate also present under that name in the parent's historical
// children list. A name with no unambiguous historical match loses every
// candidate under it.
func resolveChildren(rc *RecoveryContext, parentID vfsmodel.FileID, candidates []vfsmodel.FileID, historical []snapshot.ChildEntry, result *RecoveryResult, offenders *int) ([]snapshot.ChildEntry, error) {
	byName := map[vfsmodel.NameID][]vfsmodel.FileID{}
	for _, id := range candidates {
		rec, _, err := rc.rec.Record(id)
		if err != nil {
			return nil, fatal("stage3", fmt.Errorf("fileId %d: %w", id, err))
		}
		byName[rec.NameID] = append(byName[rec.NameID], id)
	}

	historicalByName := map[vfsmodel.NameID]map[vfsmodel.FileID]bool{}
	for _, e := range historical {
		if historicalByName[e.NameID] == nil {
			historicalByName[e.NameID] = map[vfsmodel.FileID]bool{}
		}
		historicalByName[e.NameID][e.FileID] = true
	}

	var survivors []snapshot.ChildEntry
	for name, ids := range byName {
		if len(ids) == 1 {
			survivors = append(survivors, snapshot.ChildEntry{NameID: name, FileID: ids[0]})
			continue
		}

		var matches []vfsmodel.FileID
		for _, id := range ids {
			if historicalByName[name][id] {
				matches = append(matches, id)
			}
		}
		if len(matches) == 1 {
			survivors = append(survivors, snapshot.ChildEntry{NameID: name, FileID: matches[0]})
			result.addDuplicateChildren(len(ids), true)
		} else {
			result.addDuplicateChildren(len(ids), false)
			if *offenders < maxLoggedDuplicateOffenders {
				rc.logger.Warn("duplicate children name dropped", "parentId", parentID, "nameId", name, "candidates", ids)
			}
			*offenders++
		}
	}
	return survivors, nil
}
