package records

import (
	"encoding/binary"
	"time"

	"vfsrecovery/internal/vfsmodel"
)

// rowSize is the fixed stride of one record row:
// id(8) parentId(8) nameId(4) length(8) timestampUnixNano(8) flags(4)
// contentId(8) state(1).
const rowSize = 8 + 8 + 4 + 8 + 8 + 4 + 8 + 1

func encodeRow(buf []byte, rec vfsmodel.FileRecord, state vfsmodel.RecoveryState) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(rec.ParentID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(rec.NameID))
	binary.LittleEndian.PutUint64(buf[20:28], rec.Length)
	binary.LittleEndian.PutUint64(buf[28:36], uint64(rec.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(rec.Flags))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(rec.ContentID))
	buf[48] = byte(state)
}

func decodeRow(buf []byte) (vfsmodel.FileRecord, vfsmodel.RecoveryState) {
	rec := vfsmodel.FileRecord{
		ID:        vfsmodel.FileID(binary.LittleEndian.Uint64(buf[0:8])),
		ParentID:  vfsmodel.FileID(binary.LittleEndian.Uint64(buf[8:16])),
		NameID:    vfsmodel.NameID(binary.LittleEndian.Uint32(buf[16:20])),
		Length:    binary.LittleEndian.Uint64(buf[20:28]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(buf[28:36]))).UTC(),
		Flags:     vfsmodel.Flags(binary.LittleEndian.Uint32(buf[36:40])),
		ContentID: vfsmodel.ContentID(binary.LittleEndian.Uint64(buf[40:48])),
	}
	state := vfsmodel.RecoveryState(buf[48])
	return rec, state
}
