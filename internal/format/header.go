// Package format provides shared binary format utilities for the fixed
// 4-byte headers prefixed to every on-disk file the recovery engine
// manages directly (payload blob log, fresh records file). The append-only
// operation log itself uses its own framing (see internal/oplog) since its
// descriptor length is already determined by the tag byte; this header is
// for whole-file kinds that need a signature/version/flags check on open.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'v' = 0x76)
//	type (1 byte, identifies file kind)
//	version (1 byte)
//	flags (1 byte, bitfield)
//
// Type codes:
//
//	'p' = payload blob log
//	'r' = fresh records file (FSRecords)
const (
	Signature = 'v'
	HeaderSize = 4

	TypePayloadLog  = 'p'
	TypeRecordsFile = 'r'
)

// Flag bits, valid for any header Type.
const (
	FlagSealed     byte = 1 << 0 // file will never be appended to again
	FlagCompressed byte = 1 << 1 // body is zstd-compressed
)

var (
	ErrHeaderTooSmall    = errors.New("format: header too small")
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	ErrTypeMismatch      = errors.New("format: type mismatch")
	ErrVersionMismatch   = errors.New("format: version mismatch")
)

// Header represents the common 4-byte header.
type Header struct {
	Type    byte
	Version byte
	Flags   byte
}

// Encode writes the header to a 4-byte slice.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{Signature, h.Type, h.Version, h.Flags}
}

// EncodeInto writes the header into the given buffer at offset 0.
// Returns the number of bytes written (always HeaderSize).
func (h Header) EncodeInto(buf []byte) int {
	buf[0] = Signature
	buf[1] = h.Type
	buf[2] = h.Version
	buf[3] = h.Flags
	return HeaderSize
}

// Decode reads a header from the given buffer.
// Returns ErrHeaderTooSmall if buf is less than HeaderSize bytes.
// Returns ErrSignatureMismatch if the signature byte doesn't match.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{
		Type:    buf[1],
		Version: buf[2],
		Flags:   buf[3],
	}, nil
}

// DecodeAndValidate reads a header and validates the type and version.
// Returns ErrTypeMismatch if the type doesn't match expectedType.
// Returns ErrVersionMismatch if the version doesn't match expectedVersion.
func DecodeAndValidate(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type != expectedType {
		return Header{}, ErrTypeMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}

// SetSealed ORs FlagSealed into the flags byte of buf, in place.
// buf must be at least HeaderSize bytes.
func SetSealed(buf []byte) {
	buf[3] |= FlagSealed
}

// IsSealed reports whether the flags byte of an already-decoded header has
// FlagSealed set.
func (h Header) IsSealed() bool {
	return h.Flags&FlagSealed != 0
}

// IsCompressed reports whether the flags byte of an already-decoded header
// has FlagCompressed set.
func (h Header) IsCompressed() bool {
	return h.Flags&FlagCompressed != 0
}
