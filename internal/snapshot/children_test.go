package snapshot

import (
	"reflect"
	"testing"
)

func TestChildrenEncodeDecodeRoundTrip(t *testing.T) {
	entries := []ChildEntry{
		{NameID: 1, FileID: 10},
		{NameID: 2, FileID: 11},
		{NameID: 3, FileID: 500},
		{NameID: 4, FileID: 2}, // fileId can decrease; delta must go negative
	}
	for _, versioned := range []bool{false, true} {
		payload := EncodeChildren(entries, versioned, 0)
		decoded, err := DecodeChildren(payload, versioned, 0)
		if err != nil {
			t.Fatalf("versioned=%v: DecodeChildren: %v", versioned, err)
		}
		if !reflect.DeepEqual(decoded, entries) {
			t.Errorf("versioned=%v: round trip = %+v, want %+v", versioned, decoded, entries)
		}
	}
}

func TestChildrenEncodeDecodeNonzeroBase(t *testing.T) {
	entries := []ChildEntry{
		{NameID: 1, FileID: 106},
		{NameID: 2, FileID: 107},
		{NameID: 3, FileID: 250},
	}
	const parentID = 5
	payload := EncodeChildren(entries, false, parentID)
	decoded, err := DecodeChildren(payload, false, parentID)
	if err != nil {
		t.Fatalf("DecodeChildren: %v", err)
	}
	if !reflect.DeepEqual(decoded, entries) {
		t.Errorf("round trip = %+v, want %+v", decoded, entries)
	}

	// Decoding against the wrong base must not reproduce the same fileIds.
	wrong, err := DecodeChildren(payload, false, 0)
	if err != nil {
		t.Fatalf("DecodeChildren: %v", err)
	}
	if reflect.DeepEqual(wrong, entries) {
		t.Error("decoding against base=0 should not coincidentally match base=parentID")
	}
}

func TestChildrenEncodeDecodeEmpty(t *testing.T) {
	payload := EncodeChildren(nil, true, 1)
	decoded, err := DecodeChildren(payload, true, 1)
	if err != nil {
		t.Fatalf("DecodeChildren: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded = %v, want empty", decoded)
	}
}

func TestDecodeChildrenRejectsTruncatedVersionByte(t *testing.T) {
	_, err := DecodeChildren(nil, true, 0)
	if err == nil {
		t.Fatal("expected an error for a payload missing its version byte")
	}
}

func TestDecodeChildrenRejectsTruncatedCount(t *testing.T) {
	_, err := DecodeChildren([]byte{}, false, 0)
	if err == nil {
		t.Fatal("expected an error for a payload missing its count varint")
	}
}
