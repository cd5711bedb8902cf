package oplog

import (
	"time"

	"vfsrecovery/internal/vfsmodel"
)

// Operation is the decoded form of one log descriptor. Only the fields
// relevant to Tag are meaningful; the rest are zero.
type Operation struct {
	Tag Tag

	// Exceptional is the OperationResult: true means the source operation
	// failed and recovery must skip it, regardless of the other fields.
	Exceptional bool

	// FileID is set for every tag except TagContent.
	FileID vfsmodel.FileID

	// Scalar RecordsOperation payloads. Exactly one is meaningful,
	// determined by Tag.
	NewParentID   vfsmodel.FileID
	NewNameID     vfsmodel.NameID
	NewLength     uint64
	NewTimestamp  time.Time
	NewFlags      vfsmodel.Flags
	NewContentID  vfsmodel.ContentID

	// AttributesOperation payload (TagSetAttribute).
	AttrKey vfsmodel.AttrKey

	// Shared by TagSetAttribute (the written blob) and TagContent.
	PayloadRef vfsmodel.ContentID

	// ContentOperation payload (TagContent).
	ContentBytes []byte

	// VFileEventOperation.EventStart payload (TagEventStart).
	EventTimestamp time.Time
}

// Field reports which vfsmodel.Field a RecordsOperation updates. Panics if
// called on a non-RecordsOperation tag; callers should check Tag first.
func (o Operation) Field() vfsmodel.Field {
	switch o.Tag {
	case TagSetParentID:
		return vfsmodel.FieldParentID
	case TagSetNameID:
		return vfsmodel.FieldNameID
	case TagSetLength:
		return vfsmodel.FieldLength
	case TagSetTimestamp:
		return vfsmodel.FieldTimestamp
	case TagSetFlags:
		return vfsmodel.FieldFlags
	case TagSetContentID:
		return vfsmodel.FieldContentID
	default:
		panic("oplog: Field() called on a non-RecordsOperation tag")
	}
}

// ReadOutcome distinguishes the three shapes an OperationReadResult can take.
type ReadOutcome int

const (
	// Complete means both framing bytes matched and the payload decoded.
	Complete ReadOutcome = iota
	// Incomplete means the record was reserved but never fully written
	// (an aborted or crashed appender), or was skipped by a filtered read.
	Incomplete
	// Invalid means the framing bytes are inconsistent; the position is
	// not a valid record boundary.
	Invalid
)

func (o ReadOutcome) String() string {
	switch o {
	case Complete:
		return "Complete"
	case Incomplete:
		return "Incomplete"
	case Invalid:
		return "Invalid"
	default:
		return "unknown"
	}
}

// ReadResult is the sum type OperationReadResult: Complete(Operation) |
// Incomplete(Tag) | Invalid(cause).
type ReadResult struct {
	Outcome ReadOutcome

	// Op is set iff Outcome == Complete.
	Op Operation

	// Tag is the presumed tag for Incomplete; it is left unset for Invalid.
	Tag Tag

	// Cause explains an Invalid result; nil otherwise.
	Cause error

	// Len is the total descriptor length in bytes, including both framing
	// bytes, when known (Complete and Incomplete). Zero for Invalid, since
	// an invalid framing byte carries no reliable length.
	Len int
}
