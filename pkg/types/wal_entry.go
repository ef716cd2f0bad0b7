package types

import (
	"encoding/binary"
	"fmt"
)

// walEntryHeaderSize is the fixed-width prefix (stream_id, base_offset,
// last_offset, all int64 little-endian) that carries a StreamRecordBatch's
// identity through the WAL, which otherwise only frames opaque bytes. The
// WAL's own record header (pkg/wal.RecordHeader) still wraps this whole
// entry for CRC and offset verification.
const walEntryHeaderSize = 8 + 8 + 8

// EncodeWALEntry serializes a StreamRecordBatch into the byte slice
// handed to the WAL as a record body, so that recovery can reconstruct
// stream identity and offsets from the raw WAL ring alone.
func EncodeWALEntry(b StreamRecordBatch) []byte {
	buf := make([]byte, walEntryHeaderSize+len(b.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(b.StreamID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(b.BaseOffset))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(b.LastOffset))
	copy(buf[walEntryHeaderSize:], b.Payload)
	return buf
}

// DecodeWALEntry reverses EncodeWALEntry.
func DecodeWALEntry(buf []byte) (StreamRecordBatch, error) {
	if len(buf) < walEntryHeaderSize {
		return StreamRecordBatch{}, fmt.Errorf("types: wal entry too short: %d bytes", len(buf))
	}
	rec := StreamRecordBatch{
		StreamID:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		BaseOffset:  int64(binary.LittleEndian.Uint64(buf[8:16])),
		LastOffset:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		Payload:     buf[walEntryHeaderSize:],
		EncodedSize: int64(len(buf)),
	}
	return rec, nil
}
