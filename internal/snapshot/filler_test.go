package snapshot

import (
	"testing"

	"vfsrecovery/internal/oplog"
	"vfsrecovery/internal/vfsmodel"
)

func TestSumUnionsFieldsAndAttributes(t *testing.T) {
	f := Sum(ToFiller(vfsmodel.FieldParentID), ToFiller(vfsmodel.FieldLength), AttributesFiller())
	mask := f.mask()
	if !mask.Includes(oplog.TagSetParentID) || !mask.Includes(oplog.TagSetLength) || !mask.Includes(oplog.TagSetAttribute) {
		t.Errorf("mask = %v, missing an expected tag", mask)
	}
	if mask.Includes(oplog.TagSetNameID) {
		t.Error("mask should not include a field never summed in")
	}
}

func TestSumUnconstrainedAbsorbs(t *testing.T) {
	constrained := ToFiller(vfsmodel.FieldLength).Constrain(OnlyFileID(1))
	unconstrained := ToFiller(vfsmodel.FieldParentID)
	f := Sum(constrained, unconstrained)

	op := oplog.Operation{Tag: oplog.TagSetLength, FileID: 999}
	if !f.matches(op) {
		t.Error("Sum with an unconstrained constituent must match everything")
	}
}

func TestSumOrsConstraints(t *testing.T) {
	f := Sum(
		ToFiller(vfsmodel.FieldLength).Constrain(OnlyFileID(1)),
		ToFiller(vfsmodel.FieldLength).Constrain(OnlyFileID(2)),
	)
	if !f.matches(oplog.Operation{FileID: 1}) {
		t.Error("should match fileId 1")
	}
	if !f.matches(oplog.Operation{FileID: 2}) {
		t.Error("should match fileId 2")
	}
	if f.matches(oplog.Operation{FileID: 3}) {
		t.Error("should not match fileId 3")
	}
}

func TestConstrainAnds(t *testing.T) {
	f := ToFiller(vfsmodel.FieldLength).
		Constrain(InFileIDRange(1, 10)).
		Constrain(func(op oplog.Operation) bool { return !op.Exceptional })

	if !f.matches(oplog.Operation{FileID: 5}) {
		t.Error("should match: in range and not exceptional")
	}
	if f.matches(oplog.Operation{FileID: 20}) {
		t.Error("should not match: out of range")
	}
	if f.matches(oplog.Operation{FileID: 5, Exceptional: true}) {
		t.Error("should not match: exceptional")
	}
}

func TestAllScalarFieldsFillerMask(t *testing.T) {
	f := AllScalarFieldsFiller()
	mask := f.mask()
	for _, tag := range []oplog.Tag{
		oplog.TagSetParentID, oplog.TagSetNameID, oplog.TagSetLength,
		oplog.TagSetTimestamp, oplog.TagSetFlags, oplog.TagSetContentID,
	} {
		if !mask.Includes(tag) {
			t.Errorf("mask missing %v", tag)
		}
	}
	if mask.Includes(oplog.TagSetAttribute) {
		t.Error("AllScalarFieldsFiller must not include attributes")
	}
}

func TestOnlyFileIDConstraint(t *testing.T) {
	c := OnlyFileID(7)
	if !c(oplog.Operation{FileID: 7}) {
		t.Error("should match fileId 7")
	}
	if c(oplog.Operation{FileID: 8}) {
		t.Error("should not match fileId 8")
	}
}
