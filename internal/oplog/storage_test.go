package oplog

import (
	"testing"
	"time"

	"vfsrecovery/internal/vfsmodel"
)

func openTestStorage(t *testing.T, chunkSize int64) *Storage {
	t.Helper()
	s, err := Open(t.TempDir(), chunkSize, 2, 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendOp(t *testing.T, s *Storage, op Operation) uint64 {
	t.Helper()
	slot, err := s.AppendReservation(op.Tag, len(op.ContentBytes))
	if err != nil {
		t.Fatalf("AppendReservation: %v", err)
	}
	pos := slot.Position()
	if _, err := slot.Write(Encode(op)); err != nil {
		t.Fatalf("slot.Write: %v", err)
	}
	if err := slot.Close(); err != nil {
		t.Fatalf("slot.Close: %v", err)
	}
	return pos
}

func TestAppendAndReadAt(t *testing.T) {
	s := openTestStorage(t, 1<<20)

	pos := appendOp(t, s, Operation{Tag: TagSetLength, FileID: 42, NewLength: 1234})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	res := s.ReadAt(pos)
	if res.Outcome != Complete {
		t.Fatalf("Outcome = %v, want Complete (cause %v)", res.Outcome, res.Cause)
	}
	if res.Op.FileID != 42 || res.Op.NewLength != 1234 {
		t.Errorf("decoded op = %+v", res.Op)
	}
}

func TestAppendAndReadPreceding(t *testing.T) {
	s := openTestStorage(t, 1<<20)

	appendOp(t, s, Operation{Tag: TagSetParentID, FileID: 1, NewParentID: 2})
	pos2 := appendOp(t, s, Operation{Tag: TagSetNameID, FileID: 1, NewNameID: 7})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	end := pos2 + uint64(DescriptorLen(TagSetNameID, 0))
	res := s.ReadPreceding(end)
	if res.Outcome != Complete {
		t.Fatalf("Outcome = %v, cause %v", res.Outcome, res.Cause)
	}
	if res.Op.Tag != TagSetNameID || res.Op.NewNameID != 7 {
		t.Errorf("decoded op = %+v", res.Op)
	}
}

// TestReadAtReadPrecedingSymmetry is spec property 2: readAt(p) is
// Complete(op) iff readPreceding(p+descriptorLen(op.tag)) is Complete(op).
func TestReadAtReadPrecedingSymmetry(t *testing.T) {
	s := openTestStorage(t, 1<<20)
	pos := appendOp(t, s, Operation{Tag: TagSetFlags, FileID: 9, NewFlags: vfsmodel.FlagFree})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	fwd := s.ReadAt(pos)
	if fwd.Outcome != Complete {
		t.Fatalf("forward read: %v", fwd.Outcome)
	}
	back := s.ReadPreceding(pos + uint64(fwd.Len))
	if back.Outcome != Complete {
		t.Fatalf("backward read: %v (cause %v)", back.Outcome, back.Cause)
	}
	if back.Op != fwd.Op {
		t.Errorf("asymmetric decode: forward %+v, backward %+v", fwd.Op, back.Op)
	}
}

func TestContentOperationRoundTrip(t *testing.T) {
	s := openTestStorage(t, 1<<20)
	bytes := []byte("hello recovery")
	pos := appendOp(t, s, Operation{Tag: TagContent, PayloadRef: 5, ContentBytes: bytes})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	fwd := s.ReadAt(pos)
	if fwd.Outcome != Complete {
		t.Fatalf("forward: %v (cause %v)", fwd.Outcome, fwd.Cause)
	}
	if string(fwd.Op.ContentBytes) != string(bytes) || fwd.Op.PayloadRef != 5 {
		t.Errorf("decoded content op = %+v", fwd.Op)
	}

	back := s.ReadPreceding(pos + uint64(fwd.Len))
	if back.Outcome != Complete {
		t.Fatalf("backward: %v (cause %v)", back.Outcome, back.Cause)
	}
	if string(back.Op.ContentBytes) != string(bytes) {
		t.Errorf("backward decoded content op = %+v", back.Op)
	}
}

// TestTornWriteIsIncomplete is spec property 3/the framing rule: a head
// byte written as -tag with a matching +tag tail classifies as Incomplete.
func TestTornWriteIsIncomplete(t *testing.T) {
	s := openTestStorage(t, 1<<20)

	size := DescriptorLen(TagSetLength, 0)
	slot, err := s.AppendReservation(TagSetLength, 0)
	if err != nil {
		t.Fatalf("AppendReservation: %v", err)
	}
	torn := make([]byte, size)
	torn[0] = byte(-int8(TagSetLength))
	torn[size-1] = byte(TagSetLength)
	if _, err := slot.Write(torn); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := slot.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	res := s.ReadAt(slot.Position())
	if res.Outcome != Incomplete {
		t.Fatalf("Outcome = %v, want Incomplete (cause %v)", res.Outcome, res.Cause)
	}
	if res.Tag != TagSetLength {
		t.Errorf("Tag = %v, want TagSetLength", res.Tag)
	}
}

// TestMismatchedFramingIsInvalid covers the case where head and tail tags
// disagree outright.
func TestMismatchedFramingIsInvalid(t *testing.T) {
	s := openTestStorage(t, 1<<20)

	size := DescriptorLen(TagSetLength, 0)
	slot, err := s.AppendReservation(TagSetLength, 0)
	if err != nil {
		t.Fatalf("AppendReservation: %v", err)
	}
	garbage := make([]byte, size)
	garbage[0] = byte(TagSetLength)
	garbage[size-1] = byte(TagSetNameID) // wrong tail tag
	if _, err := slot.Write(garbage); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := slot.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	res := s.ReadAt(slot.Position())
	if res.Outcome != Invalid {
		t.Fatalf("Outcome = %v, want Invalid", res.Outcome)
	}
}

// TestFilteredReadSkipsExcludedTag is spec property 4: a filtered read of
// an excluded tag reports Incomplete without decoding the payload.
func TestFilteredReadSkipsExcludedTag(t *testing.T) {
	s := openTestStorage(t, 1<<20)
	pos := appendOp(t, s, Operation{Tag: TagSetLength, FileID: 1, NewLength: 99})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mask := NewTagMask(TagSetParentID) // excludes TagSetLength
	res := s.ReadAtFiltered(pos, mask)
	if res.Outcome != Incomplete {
		t.Fatalf("Outcome = %v, want Incomplete", res.Outcome)
	}
	if res.Tag != TagSetLength {
		t.Errorf("Tag = %v, want TagSetLength", res.Tag)
	}
	if res.Op != (Operation{}) {
		t.Errorf("filtered-out read should not populate Op, got %+v", res.Op)
	}
}

func TestIteratorForwardAndBackward(t *testing.T) {
	s := openTestStorage(t, 1<<20)
	var positions []uint64
	for i := 0; i < 5; i++ {
		positions = append(positions, appendOp(t, s, Operation{
			Tag: TagSetLength, FileID: vfsmodel.FileID(i + 1), NewLength: uint64(i * 10),
		}))
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	it := NewIterator(s, s.StartOffset())
	var seen []vfsmodel.FileID
	for it.HasNext() {
		res := it.Next()
		if res.Outcome != Complete {
			t.Fatalf("Next: %v", res.Outcome)
		}
		seen = append(seen, res.Op.FileID)
	}
	if len(seen) != 5 {
		t.Fatalf("forward saw %d records, want 5", len(seen))
	}

	back := NewIterator(s, s.Size())
	var seenBack []vfsmodel.FileID
	for back.HasPrevious() {
		res := back.Previous()
		if res.Outcome != Complete {
			t.Fatalf("Previous: %v", res.Outcome)
		}
		seenBack = append(seenBack, res.Op.FileID)
	}
	if len(seenBack) != 5 {
		t.Fatalf("backward saw %d records, want 5", len(seenBack))
	}
	for i := range seen {
		if seen[i] != seenBack[len(seenBack)-1-i] {
			t.Errorf("forward/backward order mismatch at %d: %v vs %v", i, seen, seenBack)
		}
	}
}

func TestIteratorPoisonsOnInvalid(t *testing.T) {
	s := openTestStorage(t, 1<<20)
	appendOp(t, s, Operation{Tag: TagSetLength, FileID: 1, NewLength: 1})

	size := DescriptorLen(TagSetLength, 0)
	slot, err := s.AppendReservation(TagSetLength, 0)
	if err != nil {
		t.Fatalf("AppendReservation: %v", err)
	}
	garbage := make([]byte, size)
	garbage[0] = byte(TagSetLength)
	garbage[size-1] = byte(TagSetNameID)
	slot.Write(garbage)
	slot.Close()
	appendOp(t, s, Operation{Tag: TagSetLength, FileID: 3, NewLength: 3})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	it := NewIterator(s, s.StartOffset())
	first := it.Next()
	if first.Outcome != Complete {
		t.Fatalf("first Next: %v", first.Outcome)
	}
	second := it.Next()
	if second.Outcome != Invalid {
		t.Fatalf("second Next: %v, want Invalid", second.Outcome)
	}
	if it.HasNext() {
		t.Error("iterator should be poisoned after an Invalid read")
	}
}

func TestTruncateEndPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 1<<20, 2, 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	appendOp(t, s, Operation{Tag: TagSetLength, FileID: 1, NewLength: 1})
	pos2 := appendOp(t, s, Operation{Tag: TagSetLength, FileID: 2, NewLength: 2})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	cutPoint := pos2
	if err := s.TruncateEnd(cutPoint); err != nil {
		t.Fatalf("TruncateEnd: %v", err)
	}
	s.Close()

	reopened, err := Open(dir, 1<<20, 2, 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Size() != cutPoint {
		t.Errorf("Size() after reopen = %d, want %d", reopened.Size(), cutPoint)
	}
}

func TestEventStartRoundTrip(t *testing.T) {
	s := openTestStorage(t, 1<<20)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pos := appendOp(t, s, Operation{Tag: TagEventStart, EventTimestamp: ts})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	res := s.ReadAt(pos)
	if res.Outcome != Complete {
		t.Fatalf("Outcome = %v", res.Outcome)
	}
	if !res.Op.EventTimestamp.Equal(ts) {
		t.Errorf("EventTimestamp = %v, want %v", res.Op.EventTimestamp, ts)
	}
}

func TestChunkRollover(t *testing.T) {
	// A tiny chunk size forces rollover within a handful of records.
	size := DescriptorLen(TagSetLength, 0)
	s := openTestStorage(t, int64(size)*2+3)

	var positions []uint64
	for i := 0; i < 10; i++ {
		positions = append(positions, appendOp(t, s, Operation{
			Tag: TagSetLength, FileID: vfsmodel.FileID(i + 1), NewLength: uint64(i),
		}))
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i, pos := range positions {
		res := s.ReadAt(pos)
		if res.Outcome != Complete {
			t.Fatalf("record %d: Outcome = %v (cause %v)", i, res.Outcome, res.Cause)
		}
		if res.Op.FileID != vfsmodel.FileID(i+1) {
			t.Errorf("record %d: FileID = %v, want %d", i, res.Op.FileID, i+1)
		}
	}
}
