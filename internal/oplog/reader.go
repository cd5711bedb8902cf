package oplog

import (
	"encoding/binary"
	"io"
)

// readBytesAt reads exactly n bytes starting at the absolute log position
// pos. Callers are responsible for ensuring [pos, pos+n) never straddles a
// chunk boundary, which AppendReservation guarantees for any real
// descriptor.
func (s *Storage) readBytesAt(pos uint64, n int) ([]byte, error) {
	idx := s.chunkIndex(pos)
	off := s.chunkOffset(pos)
	f, err := s.chunkFile(idx, false)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// ReadAt reads the descriptor starting exactly at pos.
func (s *Storage) ReadAt(pos uint64) ReadResult {
	return s.readAtMasked(pos, AllTagsMask)
}

// ReadAtFiltered reads the descriptor at pos, but skips payload
// deserialization (returning Incomplete(tag) instead of Complete) when the
// tag is outside mask.
func (s *Storage) ReadAtFiltered(pos uint64, mask TagMask) ReadResult {
	return s.readAtMasked(pos, mask)
}

func (s *Storage) readAtMasked(pos uint64, mask TagMask) ReadResult {
	if pos < s.StartOffset() || pos >= s.Size() {
		return ReadResult{Outcome: Invalid, Cause: ErrBeforeStartOffset}
	}

	headBuf, err := s.readBytesAt(pos, 1)
	if err != nil {
		return ReadResult{Outcome: Invalid, Cause: err}
	}
	head := int8(headBuf[0])

	if head < 0 {
		presumed := Tag(-head)
		return s.readIncompleteFrame(pos, presumed)
	}

	tag := Tag(headBuf[0])
	if tag < 1 || tag > MaxTag {
		return ReadResult{Outcome: Invalid, Cause: ErrUnknownTag}
	}

	return s.readKnownTag(pos, tag, mask)
}

// readIncompleteFrame validates a presumed-torn descriptor: the head byte
// was the negative encoding of presumed, so the tail byte (at the position
// a well-formed descriptor of that tag would place it) must equal +presumed.
func (s *Storage) readIncompleteFrame(pos uint64, presumed Tag) ReadResult {
	if presumed < 1 || presumed > MaxTag {
		return ReadResult{Outcome: Invalid, Cause: ErrUnknownTag}
	}
	size, fixed := fixedValueSize(presumed)
	if !fixed && presumed != TagContent {
		return ReadResult{Outcome: Invalid, Cause: ErrUnknownTag}
	}

	var total int
	if fixed {
		total = 1 + size + 1
	} else {
		// A torn content write may never have gotten as far as writing its
		// length prefix; without a reliable length there is no tail
		// position to check, so treat it as Invalid rather than guessing.
		prefix, err := s.readBytesAt(pos+1, contentPrefixSize)
		if err != nil {
			return ReadResult{Outcome: Invalid, Cause: err}
		}
		total = DescriptorLen(TagContent, contentLenFromPrefix(prefix))
		if uint64(total) > s.Size()-pos {
			return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
		}
	}

	tailBuf, err := s.readBytesAt(pos+uint64(total)-1, 1)
	if err != nil {
		return ReadResult{Outcome: Invalid, Cause: err}
	}
	if Tag(tailBuf[0]) != presumed {
		return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
	}
	return ReadResult{Outcome: Incomplete, Tag: presumed, Len: total}
}

func (s *Storage) readKnownTag(pos uint64, tag Tag, mask TagMask) ReadResult {
	if size, fixed := fixedValueSize(tag); fixed {
		total := 1 + size + 1
		valueBuf, err := s.readBytesAt(pos+1, size+1) // value + tail tag
		if err != nil {
			return ReadResult{Outcome: Invalid, Cause: err}
		}
		if Tag(valueBuf[size]) != tag {
			return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
		}
		if !mask.Includes(tag) {
			return ReadResult{Outcome: Incomplete, Tag: tag, Len: total}
		}
		op := decodeValue(tag, valueBuf[:size])
		return ReadResult{Outcome: Complete, Op: op, Len: total}
	}

	if tag != TagContent {
		return ReadResult{Outcome: Invalid, Cause: ErrUnknownTag}
	}

	prefix, err := s.readBytesAt(pos+1, contentPrefixSize)
	if err != nil {
		return ReadResult{Outcome: Invalid, Cause: err}
	}
	contentLen := contentLenFromPrefix(prefix)
	total := DescriptorLen(TagContent, contentLen)
	if uint64(total) > s.Size()-pos {
		return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
	}

	if !mask.Includes(tag) {
		tailBuf, err := s.readBytesAt(pos+uint64(total)-1, 1)
		if err != nil {
			return ReadResult{Outcome: Invalid, Cause: err}
		}
		if Tag(tailBuf[0]) != tag {
			return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
		}
		return ReadResult{Outcome: Incomplete, Tag: tag, Len: total}
	}

	valueSize := total - 2
	valueBuf, err := s.readBytesAt(pos+1, valueSize+1)
	if err != nil {
		return ReadResult{Outcome: Invalid, Cause: err}
	}
	if Tag(valueBuf[valueSize]) != tag {
		return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
	}
	op := decodeValue(tag, valueBuf[:valueSize])
	return ReadResult{Outcome: Complete, Op: op, Len: total}
}

// ReadPreceding reads the descriptor ending exactly at pos (i.e. whose tail
// tag byte is at pos-1), by reading backward from the tail.
func (s *Storage) ReadPreceding(pos uint64) ReadResult {
	return s.readPrecedingMasked(pos, AllTagsMask)
}

// ReadPrecedingFiltered is the backward counterpart of ReadAtFiltered.
func (s *Storage) ReadPrecedingFiltered(pos uint64, mask TagMask) ReadResult {
	return s.readPrecedingMasked(pos, mask)
}

func (s *Storage) readPrecedingMasked(pos uint64, mask TagMask) ReadResult {
	if pos <= s.StartOffset() || pos > s.Size() {
		return ReadResult{Outcome: Invalid, Cause: ErrBeforeStartOffset}
	}

	tailBuf, err := s.readBytesAt(pos-1, 1)
	if err != nil {
		return ReadResult{Outcome: Invalid, Cause: err}
	}
	tailTag := Tag(tailBuf[0])
	if tailTag < 1 || tailTag > MaxTag {
		return ReadResult{Outcome: Invalid, Cause: ErrUnknownTag}
	}

	// Fixed-size tags: the descriptor start follows directly from the tag.
	if size, fixed := fixedValueSize(tailTag); fixed {
		total := 1 + size + 1
		if uint64(total) > pos-s.StartOffset() {
			return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
		}
		return s.readAtMasked(pos-uint64(total), mask)
	}

	if tailTag != TagContent {
		return ReadResult{Outcome: Invalid, Cause: ErrUnknownTag}
	}

	// The content length is repeated just before the outcome byte/tail tag
	// specifically so a backward reader can recover the descriptor's start
	// without a forward index.
	if pos < s.StartOffset()+uint64(1+contentSuffixSize) {
		return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
	}
	suffix, err := s.readBytesAt(pos-1-uint64(contentSuffixSize), 4)
	if err != nil {
		return ReadResult{Outcome: Invalid, Cause: err}
	}
	contentLen := int(binary.LittleEndian.Uint32(suffix))
	total := DescriptorLen(TagContent, contentLen)
	if uint64(total) > pos-s.StartOffset() {
		return ReadResult{Outcome: Invalid, Cause: ErrFrameMismatch}
	}
	return s.readAtMasked(pos-uint64(total), mask)
}
