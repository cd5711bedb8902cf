package records

import (
	"testing"
	"time"

	"vfsrecovery/internal/vfsmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFillRecordAndRead(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.FillRecord(5, ts, 100, vfsmodel.FlagFree, 3, 1, true); err != nil {
		t.Fatalf("FillRecord: %v", err)
	}

	rec, state, err := s.Record(5)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if state != vfsmodel.StateInitialized {
		t.Errorf("state = %v, want INITIALIZED", state)
	}
	if rec.ParentID != 1 || rec.NameID != 3 || rec.Length != 100 || rec.Flags != vfsmodel.FlagFree {
		t.Errorf("rec = %+v", rec)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
}

func TestFillRecordOverwriteFalseSkipsExisting(t *testing.T) {
	s := openTestStore(t)
	ts := time.Now()
	if err := s.FillRecord(1, ts, 1, 0, 0, 0, true); err != nil {
		t.Fatalf("FillRecord: %v", err)
	}
	if err := s.FillRecord(1, ts, 999, 0, 0, 0, false); err != nil {
		t.Fatalf("FillRecord: %v", err)
	}
	rec, _, err := s.Record(1)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Length != 1 {
		t.Errorf("Length = %d, want 1 (overwrite=false must not clobber)", rec.Length)
	}
}

func TestMaxFileIDGrowsWithAllocation(t *testing.T) {
	s := openTestStore(t)
	if s.MaxFileID() != 0 {
		t.Fatalf("MaxFileID = %d, want 0 before any row", s.MaxFileID())
	}
	s.FillRecord(1, time.Now(), 0, 0, 0, 0, true)
	s.FillRecord(7, time.Now(), 0, 0, 0, 0, true)
	if s.MaxFileID() != 7 {
		t.Errorf("MaxFileID = %d, want 7", s.MaxFileID())
	}
}

func TestBindContentPreservedAcrossFillRecord(t *testing.T) {
	s := openTestStore(t)
	if err := s.BindContent(3, 42); err != nil {
		t.Fatalf("BindContent: %v", err)
	}
	if err := s.FillRecord(3, time.Now(), 10, 0, 0, 0, true); err != nil {
		t.Fatalf("FillRecord: %v", err)
	}
	rec, _, err := s.Record(3)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ContentID != 42 {
		t.Errorf("ContentID = %d, want 42 (must survive a later fillRecord)", rec.ContentID)
	}
}

func TestSetFlagsAndState(t *testing.T) {
	s := openTestStore(t)
	s.FillRecord(1, time.Now(), 0, 0, 0, 0, true)
	if err := s.SetFlags(1, vfsmodel.FlagMustReloadContent|vfsmodel.FlagMustReloadLength); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}
	if err := s.SetState(1, vfsmodel.StateConnected); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	rec, state, err := s.Record(1)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !rec.Flags.Has(vfsmodel.FlagMustReloadContent | vfsmodel.FlagMustReloadLength) {
		t.Errorf("Flags = %v", rec.Flags)
	}
	if state != vfsmodel.StateConnected {
		t.Errorf("state = %v, want CONNECTED", state)
	}
}

func TestAttributeSetAndGet(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetAttribute(1, 9, 500); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if err := s.SetAttribute(1, 10, 600); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if ref, ok := s.Attribute(1, 9); !ok || ref != 500 {
		t.Errorf("Attribute(1,9) = %d, %v", ref, ok)
	}
	s.FillRecord(1, time.Now(), 0, 0, 0, 0, true)
	rec, _, err := s.Record(1)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Attributes) != 2 {
		t.Errorf("Attributes = %v, want 2 entries", rec.Attributes)
	}
}

func TestAllocateContentRecordAndStoreDenseIDs(t *testing.T) {
	s := openTestStore(t)
	id1, err := s.AllocateContentRecordAndStore([]byte("a"))
	if err != nil {
		t.Fatalf("AllocateContentRecordAndStore: %v", err)
	}
	id2, err := s.AllocateContentRecordAndStore([]byte("b"))
	if err != nil {
		t.Fatalf("AllocateContentRecordAndStore: %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", id1, id2)
	}
	res := s.ReadContent(id1)
	if !res.Ready || string(res.Bytes) != "a" {
		t.Errorf("ReadContent(1) = %+v", res)
	}
}

func TestCreationTimestampPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := s.SetCreationTimestamp(ts); err != nil {
		t.Fatalf("SetCreationTimestamp: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s.Close()

	got, err := ReadCreationTimestamp(dir)
	if err != nil {
		t.Fatalf("ReadCreationTimestamp: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("ReadCreationTimestamp = %v, want %v", got, ts)
	}
}

func TestRecordOfUnallocatedFileIDErrors(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Record(99); err == nil {
		t.Fatal("expected an error for an unallocated fileId")
	}
}
