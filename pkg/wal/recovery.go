package wal

// RecoverResult is one outcome of the Recovery Iterator: either a decoded
// record at a known offset, or a skip marker when a run was stale/corrupt.
type RecoverResult struct {
	Offset int64
	Body   []byte
	Ok     bool // false when this offset was stale or corrupt and was skipped
}

// RecoveryIterator is a stateless-to-the-caller cursor over WAL records
// from a starting offset up to scanLimit, tolerating ring wrap and
// corrupted or stale runs. hasNext is idempotent; next without a ready
// record is undefined, matching the facade contract.
//
// scanLimit is a full ring pass (startOffset + sectionCap), not the
// header's persisted window_next_write_offset: that field is only as
// fresh as the last header flush (every HeaderFlushInterval, or at
// Reset), so records appended after the last pre-crash flush would sit
// past it and be silently dropped from recovery. Scanning the whole ring
// is a safe over-approximation: VerifyOffset rejects any run whose
// encoded body_offset doesn't match the scan position, which is exactly
// what distinguishes this generation's tail from stale leftovers of the
// previous lap, so the extra distance costs a few wasted reads rather
// than false positives.
type RecoveryIterator struct {
	channel       *BlockChannel
	headerReserve int64
	sectionCap    int64
	deviceBlock   int64
	scanLimit     int64

	nextRecoverOffset int64
	skipOnce          bool
}

// NewRecoveryIterator starts scanning at startOffset, aligned down to the
// device block size by the caller (the Block WAL Service aligns
// trim_offset before constructing this), up to scanLimit.
func NewRecoveryIterator(channel *BlockChannel, headerReserve, sectionCap, deviceBlock, startOffset, scanLimit int64) *RecoveryIterator {
	return &RecoveryIterator{
		channel:           channel,
		headerReserve:     headerReserve,
		sectionCap:        sectionCap,
		deviceBlock:       deviceBlock,
		scanLimit:         scanLimit,
		nextRecoverOffset: startOffset,
	}
}

// SkipNext causes the next advancement to additionally skip one offset,
// used when the caller has already consumed the record at the trim
// boundary and must not see it again.
func (it *RecoveryIterator) SkipNext() { it.skipOnce = true }

// HasNext reports whether the cursor has more of the window to scan.
func (it *RecoveryIterator) HasNext() bool {
	return it.nextRecoverOffset < it.scanLimit
}

func (it *RecoveryIterator) physicalPosition(offset int64) int64 {
	return it.headerReserve + (offset % it.sectionCap)
}

func (it *RecoveryIterator) ceilBlock(offset int64) int64 {
	if rem := offset % it.deviceBlock; rem != 0 {
		return offset + (it.deviceBlock - rem)
	}
	return offset
}

// Next reads and advances past one record, or skips to the next block
// boundary on a stale/corrupt slot. Safe to call only when HasNext is
// true.
func (it *RecoveryIterator) Next() RecoverResult {
	offset := it.nextRecoverOffset

	headerBuf, err := it.channel.ReadUnaligned(it.physicalPosition(offset), int64(RecordHeaderSize))
	if err != nil {
		it.jumpToNextBlock(offset)
		return RecoverResult{Offset: offset, Ok: false}
	}

	h, err := DecodeHeader(headerBuf)
	if err != nil {
		// Bad magic or bad header CRC: corruption. Skip to next block.
		it.jumpToNextBlock(offset)
		return RecoverResult{Offset: offset, Ok: false}
	}
	if verr := VerifyOffset(h, offset); verr != nil {
		// body_offset mismatch: stale ring content, not corruption.
		it.jumpToNextBlock(offset)
		return RecoverResult{Offset: offset, Ok: false}
	}

	bodyPos := it.physicalPosition(offset) + int64(RecordHeaderSize)
	body, err := it.channel.ReadUnaligned(bodyPos, int64(h.BodyLength))
	if err != nil {
		it.jumpToNextBlock(offset)
		return RecoverResult{Offset: offset, Ok: false}
	}
	if err := VerifyBody(h, body); err != nil {
		it.jumpToNextBlock(offset)
		return RecoverResult{Offset: offset, Ok: false}
	}

	advance := int64(RecordHeaderSize) + int64(h.BodyLength)
	it.nextRecoverOffset = offset + advance
	if it.skipOnce {
		it.nextRecoverOffset++
		it.skipOnce = false
	}

	return RecoverResult{Offset: offset, Body: body, Ok: true}
}

func (it *RecoveryIterator) jumpToNextBlock(offset int64) {
	it.nextRecoverOffset = it.ceilBlock(offset + 1)
	if it.skipOnce {
		it.nextRecoverOffset++
		it.skipOnce = false
	}
}
