package oplog

import (
	"encoding/binary"
	"errors"
	"time"

	"vfsrecovery/internal/vfsmodel"
)

// ErrFrameMismatch is the Invalid cause when the head and tail tag bytes
// disagree about which tag (or negated tag) they encode.
var ErrFrameMismatch = errors.New("oplog: head/tail tag frame mismatch")

// ErrUnknownTag is the Invalid cause when a head byte, read as a positive
// tag, falls outside [1, MaxTag].
var ErrUnknownTag = errors.New("oplog: tag out of range")

const outcomeOK, outcomeException = byte(0), byte(1)

// Encode serializes op into a complete descriptor: head tag, value bytes,
// tail tag. The returned slice length equals DescriptorLen(op.Tag, len(op.ContentBytes)).
func Encode(op Operation) []byte {
	n := DescriptorLen(op.Tag, len(op.ContentBytes))
	buf := make([]byte, n)
	buf[0] = byte(op.Tag)
	buf[n-1] = byte(op.Tag)
	encodeValue(buf[1:n-1], op)
	return buf
}

func outcomeByte(exceptional bool) byte {
	if exceptional {
		return outcomeException
	}
	return outcomeOK
}

func encodeValue(v []byte, op Operation) {
	switch op.Tag {
	case TagSetParentID:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint64(v[8:16], uint64(op.NewParentID))
		v[16] = outcomeByte(op.Exceptional)
	case TagSetNameID:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint32(v[8:12], uint32(op.NewNameID))
		v[12] = outcomeByte(op.Exceptional)
	case TagSetLength:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint64(v[8:16], op.NewLength)
		v[16] = outcomeByte(op.Exceptional)
	case TagSetTimestamp:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint64(v[8:16], uint64(op.NewTimestamp.UnixNano()))
		v[16] = outcomeByte(op.Exceptional)
	case TagSetFlags:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint32(v[8:12], uint32(op.NewFlags))
		v[12] = outcomeByte(op.Exceptional)
	case TagSetContentID:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint64(v[8:16], uint64(op.NewContentID))
		v[16] = outcomeByte(op.Exceptional)
	case TagSetAttribute:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.FileID))
		binary.LittleEndian.PutUint32(v[8:12], uint32(op.AttrKey))
		binary.LittleEndian.PutUint64(v[12:20], uint64(op.PayloadRef))
		v[20] = outcomeByte(op.Exceptional)
	case TagContent:
		n := len(op.ContentBytes)
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.PayloadRef))
		binary.LittleEndian.PutUint32(v[8:12], uint32(n))
		copy(v[12:12+n], op.ContentBytes)
		binary.LittleEndian.PutUint32(v[12+n:16+n], uint32(n))
		v[len(v)-1] = outcomeByte(op.Exceptional)
	case TagEventStart:
		binary.LittleEndian.PutUint64(v[0:8], uint64(op.EventTimestamp.UnixNano()))
		v[8] = outcomeByte(op.Exceptional)
	}
}

// decodeValue parses the value bytes (between the two framing tags) for a
// known-good tag. v must be exactly the right length for t (and, for
// TagContent, whatever length the embedded length field specifies).
func decodeValue(t Tag, v []byte) Operation {
	op := Operation{Tag: t}
	switch t {
	case TagSetParentID:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.NewParentID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[8:16]))
		op.Exceptional = v[16] == outcomeException
	case TagSetNameID:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.NewNameID = vfsmodel.NameID(binary.LittleEndian.Uint32(v[8:12]))
		op.Exceptional = v[12] == outcomeException
	case TagSetLength:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.NewLength = binary.LittleEndian.Uint64(v[8:16])
		op.Exceptional = v[16] == outcomeException
	case TagSetTimestamp:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.NewTimestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(v[8:16]))).UTC()
		op.Exceptional = v[16] == outcomeException
	case TagSetFlags:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.NewFlags = vfsmodel.Flags(binary.LittleEndian.Uint32(v[8:12]))
		op.Exceptional = v[12] == outcomeException
	case TagSetContentID:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.NewContentID = vfsmodel.ContentID(binary.LittleEndian.Uint64(v[8:16]))
		op.Exceptional = v[16] == outcomeException
	case TagSetAttribute:
		op.FileID = vfsmodel.FileID(binary.LittleEndian.Uint64(v[0:8]))
		op.AttrKey = vfsmodel.AttrKey(binary.LittleEndian.Uint32(v[8:12]))
		op.PayloadRef = vfsmodel.ContentID(binary.LittleEndian.Uint64(v[12:20]))
		op.Exceptional = v[20] == outcomeException
	case TagContent:
		op.PayloadRef = vfsmodel.ContentID(binary.LittleEndian.Uint64(v[0:8]))
		n := binary.LittleEndian.Uint32(v[8:12])
		op.ContentBytes = append([]byte(nil), v[12:12+n]...)
		op.Exceptional = v[len(v)-1] == outcomeException
		// v[12+n : 16+n] repeats the length for backward readers; already
		// consumed via contentLenFromPrefix on the forward path.
	case TagEventStart:
		op.EventTimestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(v[0:8]))).UTC()
		op.Exceptional = v[8] == outcomeException
	}
	return op
}

// contentLenFromPrefix reads the embedded length field out of a TagContent
// descriptor's fixed prefix, which must already have been read from disk.
func contentLenFromPrefix(prefix []byte) int {
	return int(binary.LittleEndian.Uint32(prefix[8:12]))
}
