package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Record frame round-trip
// ============================================================================

func TestEncodeDecodeRecord_RoundTrip(t *testing.T) {
	body := []byte("a record body that is not block-aligned in length")
	recordOffset := int64(4096 * 3)

	frame, err := EncodeRecord(body, recordOffset)
	require.NoError(t, err)
	require.Equal(t, FrameSize(len(body)), int64(len(frame)))

	h, err := DecodeHeader(frame[:RecordHeaderSize])
	require.NoError(t, err)
	require.NoError(t, VerifyOffset(h, recordOffset))
	require.NoError(t, VerifyBody(h, frame[RecordHeaderSize:]))
}

func TestEncodeRecord_RejectsEmptyBody(t *testing.T) {
	_, err := EncodeRecord(nil, 0)
	require.Error(t, err)
	assertKind(t, err, KindCorruptRecord)
}

func TestEncodeRecord_RejectsOversizeBody(t *testing.T) {
	_, err := EncodeRecord(make([]byte, MaxBodyLength+1), 0)
	require.Error(t, err)
	assertKind(t, err, KindCorruptRecord)
}

func TestDecodeHeader_BadMagic(t *testing.T) {
	frame, err := EncodeRecord([]byte("x"), 0)
	require.NoError(t, err)
	frame[0] ^= 0xFF // corrupt the magic

	_, err = DecodeHeader(frame[:RecordHeaderSize])
	require.Error(t, err)
	assertKind(t, err, KindCorruptRecord)
}

func TestDecodeHeader_BadHeaderCRC(t *testing.T) {
	frame, err := EncodeRecord([]byte("x"), 0)
	require.NoError(t, err)
	frame[12] ^= 0xFF // corrupt body_offset, which header_crc covers

	_, err = DecodeHeader(frame[:RecordHeaderSize])
	require.Error(t, err)
	assertKind(t, err, KindCorruptRecord)
}

func TestVerifyOffset_DetectsStaleRingContent(t *testing.T) {
	frame, err := EncodeRecord([]byte("x"), 4096)
	require.NoError(t, err)
	h, err := DecodeHeader(frame[:RecordHeaderSize])
	require.NoError(t, err)

	// Same frame re-read at a different logical offset: header CRC is
	// still valid (nothing is corrupt), but body_offset no longer
	// matches — this is stale content from a previous generation, not
	// corruption.
	err = VerifyOffset(h, 8192)
	require.Error(t, err)
	assertKind(t, err, KindCorruptRecord)
}

func TestVerifyBody_DetectsCorruption(t *testing.T) {
	frame, err := EncodeRecord([]byte("hello"), 0)
	require.NoError(t, err)
	h, err := DecodeHeader(frame[:RecordHeaderSize])
	require.NoError(t, err)

	body := append([]byte(nil), frame[RecordHeaderSize:]...)
	body[0] ^= 0xFF

	err = VerifyBody(h, body)
	require.Error(t, err)
	assertKind(t, err, KindCorruptRecord)
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	werr, ok := err.(*Error)
	require.True(t, ok, "expected *wal.Error, got %T", err)
	assert.Equal(t, want, werr.Kind)
}
