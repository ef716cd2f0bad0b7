package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// RecordMagic identifies a valid record frame header.
const RecordMagic uint32 = 0x87654321

// RecordHeaderSize is the fixed on-disk size of a record header, in bytes:
// magic(4) + body_length(4) + body_offset(8) + body_crc(4) + header_crc(4).
const RecordHeaderSize = 24

// MaxBodyLength bounds a single record's body, guarding against a corrupt
// length field driving an unbounded allocation during decode.
const MaxBodyLength = 64 << 20 // 64 MiB

// RecordHeader is the decoded form of a record frame header.
type RecordHeader struct {
	Magic      uint32
	BodyLength uint32
	BodyOffset uint64
	BodyCRC    uint32
	HeaderCRC  uint32
}

// EncodeRecord frames body as header+body at recordOffset, computing
// bodyCRC and headerCRC from the encoded bytes.
func EncodeRecord(body []byte, recordOffset int64) ([]byte, error) {
	if len(body) == 0 {
		return nil, newErr(KindCorruptRecord, "record.encode", fmt.Errorf("empty body"))
	}
	if len(body) > MaxBodyLength {
		return nil, newErr(KindCorruptRecord, "record.encode", fmt.Errorf("body length %d exceeds max %d", len(body), MaxBodyLength))
	}

	buf := make([]byte, RecordHeaderSize+len(body))
	bodyOffset := uint64(recordOffset) + uint64(RecordHeaderSize)
	bodyCRC := crc32.ChecksumIEEE(body)

	binary.LittleEndian.PutUint32(buf[0:4], RecordMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	binary.LittleEndian.PutUint64(buf[8:16], bodyOffset)
	binary.LittleEndian.PutUint32(buf[16:20], bodyCRC)
	headerCRC := crc32.ChecksumIEEE(buf[0:20])
	binary.LittleEndian.PutUint32(buf[20:24], headerCRC)
	copy(buf[RecordHeaderSize:], body)

	return buf, nil
}

// DecodeHeader parses the fixed-size record header from the front of buf.
// It validates magic, header_crc, and body_length, but does not check
// body_offset against a caller-known recordOffset — callers that know the
// expected logical offset should additionally call VerifyOffset.
func DecodeHeader(buf []byte) (*RecordHeader, error) {
	if len(buf) < RecordHeaderSize {
		return nil, newErr(KindCorruptRecord, "record.decode_header", fmt.Errorf("buffer too short: %d < %d", len(buf), RecordHeaderSize))
	}

	h := &RecordHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		BodyLength: binary.LittleEndian.Uint32(buf[4:8]),
		BodyOffset: binary.LittleEndian.Uint64(buf[8:16]),
		BodyCRC:    binary.LittleEndian.Uint32(buf[16:20]),
		HeaderCRC:  binary.LittleEndian.Uint32(buf[20:24]),
	}

	if h.Magic != RecordMagic {
		return nil, newErr(KindCorruptRecord, "record.decode_header", fmt.Errorf("bad magic %#x", h.Magic))
	}
	wantCRC := crc32.ChecksumIEEE(buf[0:20])
	if h.HeaderCRC != wantCRC {
		return nil, newErr(KindCorruptRecord, "record.decode_header", fmt.Errorf("header crc mismatch: got %#x want %#x", h.HeaderCRC, wantCRC))
	}
	if h.BodyLength == 0 || h.BodyLength > MaxBodyLength {
		return nil, newErr(KindCorruptRecord, "record.decode_header", fmt.Errorf("body_length %d out of range", h.BodyLength))
	}

	return h, nil
}

// VerifyOffset checks that the decoded header's body_offset matches the
// position it was read from. A mismatch means the slot holds stale ring
// content from a previous generation, not a record written at this
// offset — distinct from a CRC failure, which means corruption.
func VerifyOffset(h *RecordHeader, recordOffset int64) error {
	want := uint64(recordOffset) + uint64(RecordHeaderSize)
	if h.BodyOffset != want {
		return newErr(KindCorruptRecord, "record.verify_offset", fmt.Errorf("body_offset %d != expected %d (stale ring content)", h.BodyOffset, want))
	}
	return nil
}

// VerifyBody checks body against the CRC captured in h. Callers must call
// DecodeHeader (or equivalent validation) before VerifyBody.
func VerifyBody(h *RecordHeader, body []byte) error {
	if uint32(len(body)) != h.BodyLength {
		return newErr(KindCorruptRecord, "record.verify_body", fmt.Errorf("body length %d != header %d", len(body), h.BodyLength))
	}
	if got := crc32.ChecksumIEEE(body); got != h.BodyCRC {
		return newErr(KindCorruptRecord, "record.verify_body", fmt.Errorf("body crc mismatch: got %#x want %#x", got, h.BodyCRC))
	}
	return nil
}

// FrameSize returns the total on-disk size of a record with the given
// body length.
func FrameSize(bodyLength int) int64 {
	return int64(RecordHeaderSize + bodyLength)
}
