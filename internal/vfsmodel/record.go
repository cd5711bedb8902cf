// Package vfsmodel defines the per-file data model the recovery engine
// reconstructs: FileRecord, its flag bits, and the per-fileId recovery
// lifecycle state. None of these types touch disk themselves — they are
// the shared vocabulary between internal/snapshot (which fills them in
// from the log) and internal/recovery (which writes them to a fresh
// cache).
package vfsmodel

import "time"

// FileID identifies a file record. IDs are dense and monotonically
// allocated starting at 1; FileID 1 is the reserved super-root.
type FileID uint64

// SuperRootID is the synthetic parent of every root the host VFS tracks.
const SuperRootID FileID = 1

// NameID is an interned name index, resolved through an enum.NameTable.
type NameID uint32

// AttrKey is an enumerated attribute key, resolved through an
// enum.AttrTable. ChildrenAttrKey is reserved for the super-root/parent
// children-list attribute and is never iterated as an ordinary attribute.
type AttrKey uint32

// ContentID is a handle into the payload store. Zero means "no content".
type ContentID uint64

// Flags is a bit field on FileRecord.
type Flags uint32

const (
	// FlagFree marks a record unreachable from the super-root after recovery.
	FlagFree Flags = 1 << iota
	// FlagMustReloadContent marks a record whose content blob could not be
	// recovered; the host must treat the file's content as unknown and
	// reload it from the underlying filesystem.
	FlagMustReloadContent
	// FlagMustReloadLength accompanies FlagMustReloadContent: the recorded
	// length is no longer trustworthy either.
	FlagMustReloadLength
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// FileRecord is the central per-file entity synthesized by recovery.
type FileRecord struct {
	ID        FileID
	ParentID  FileID // 0 = super-root child set
	NameID    NameID
	Length    uint64
	Timestamp time.Time
	Flags     Flags
	ContentID ContentID

	// Attributes maps an enumerated attribute key to a payload handle.
	// A snapshot stores the children-list attribute here like any other
	// key; Stage 2 skips it and the tree-rebuild stage writes it anew.
	Attributes map[AttrKey]ContentID
}

// Copy returns a deep copy of the record, including its Attributes map.
func (r FileRecord) Copy() FileRecord {
	cp := r
	if r.Attributes != nil {
		cp.Attributes = make(map[AttrKey]ContentID, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// RecoveryState is the lifecycle of a single fileId through the four
// recovery stages. See spec.md §3 "RecoveryState per fileId".
type RecoveryState int

const (
	// StateUndefined is the initial state before Stage 2 visits a fileId.
	StateUndefined RecoveryState = iota
	// StateInitialized means Stage 2 filled every mandatory property.
	StateInitialized
	// StateConnected means Stage 3 found the record reachable from the
	// super-root via the rebuilt children tree.
	StateConnected
	// StateUnused means Stage 4 found the record was never connected.
	StateUnused
	// StateBotched means a mandatory property was missing, or a write
	// failed, at some point during recovery.
	StateBotched
)

// String implements fmt.Stringer for log messages and RecoveryResult dumps.
func (s RecoveryState) String() string {
	switch s {
	case StateUndefined:
		return "UNDEFINED"
	case StateInitialized:
		return "INITIALIZED"
	case StateConnected:
		return "CONNECTED"
	case StateUnused:
		return "UNUSED"
	case StateBotched:
		return "BOTCHED"
	default:
		return "UNKNOWN"
	}
}
