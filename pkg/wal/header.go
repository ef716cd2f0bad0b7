package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"
)

// HeaderMagic identifies a valid WAL superblock.
const HeaderMagic uint32 = 0xA1B2C3D4

// HeaderBlockSize is the fixed size of one header slot on disk.
const HeaderBlockSize = 4096

// headerEncodedSize is the number of bytes actually carrying fields (the
// rest of the HeaderBlockSize slot is zero-padding, excluded from the CRC
// per the on-disk layout).
const headerEncodedSize = 4 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 4 // 60

// ShutdownType records how the WAL was last closed.
type ShutdownType uint32

const (
	ShutdownGraceful ShutdownType = iota
	ShutdownUngraceful
)

// Header is the decoded WAL superblock.
type Header struct {
	Magic                 uint32
	Capacity              uint64
	TrimOffset            uint64
	LastWriteTS           uint64
	WindowNextWriteOffset uint64
	WindowStartOffset     uint64
	WindowMaxLength       uint64
	ShutdownType          ShutdownType
	CRC                   uint32
}

// encode serializes h into a HeaderBlockSize-sized, zero-padded buffer.
// Field order and widths match the fixed on-disk layout: magic:u32,
// capacity:u64, trim_offset:u64, last_write_ts:u64,
// window_next_write_offset:u64, window_start_offset:u64,
// window_max_length:u64, shutdown_type:u32, crc:u32. Little-endian.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderBlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint64(buf[4:12], h.Capacity)
	binary.LittleEndian.PutUint64(buf[12:20], h.TrimOffset)
	binary.LittleEndian.PutUint64(buf[20:28], h.LastWriteTS)
	binary.LittleEndian.PutUint64(buf[28:36], h.WindowNextWriteOffset)
	binary.LittleEndian.PutUint64(buf[36:44], h.WindowStartOffset)
	binary.LittleEndian.PutUint64(buf[44:52], h.WindowMaxLength)
	binary.LittleEndian.PutUint32(buf[52:56], uint32(h.ShutdownType))
	crc := crc32.ChecksumIEEE(buf[0:56])
	binary.LittleEndian.PutUint32(buf[56:60], crc)
	h.CRC = crc
	return buf
}

func decodeHeaderBlock(buf []byte) (*Header, error) {
	if len(buf) < headerEncodedSize {
		return nil, fmt.Errorf("header block too short: %d", len(buf))
	}
	h := &Header{
		Magic:                 binary.LittleEndian.Uint32(buf[0:4]),
		Capacity:              binary.LittleEndian.Uint64(buf[4:12]),
		TrimOffset:            binary.LittleEndian.Uint64(buf[12:20]),
		LastWriteTS:           binary.LittleEndian.Uint64(buf[20:28]),
		WindowNextWriteOffset: binary.LittleEndian.Uint64(buf[28:36]),
		WindowStartOffset:     binary.LittleEndian.Uint64(buf[36:44]),
		WindowMaxLength:       binary.LittleEndian.Uint64(buf[44:52]),
		ShutdownType:          ShutdownType(binary.LittleEndian.Uint32(buf[52:56])),
		CRC:                   binary.LittleEndian.Uint32(buf[56:60]),
	}
	if h.Magic != HeaderMagic {
		return nil, fmt.Errorf("bad magic %#x", h.Magic)
	}
	want := crc32.ChecksumIEEE(buf[0:56])
	if h.CRC != want {
		return nil, fmt.Errorf("header crc mismatch: got %#x want %#x", h.CRC, want)
	}
	return h, nil
}

// monotonicClock hands out strictly increasing nanosecond timestamps even
// across calls that land in the same wall-clock tick, so last_write_ts can
// serve as a total order across flushes.
type monotonicClock struct {
	last atomic.Int64
}

func (c *monotonicClock) now() uint64 {
	for {
		prev := c.last.Load()
		next := time.Now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return uint64(next)
		}
	}
}

// HeaderStore owns the dual-copy on-disk superblock: recovery, round-robin
// flush, and the monotonic clock that breaks ties between the two slots.
type HeaderStore struct {
	channel *BlockChannel
	clock   monotonicClock

	mu       sync.Mutex
	current  Header
	nextSlot int // 0 or 1, which physical slot flush() writes next
}

// NewHeaderStore wraps channel with header recovery/flush logic. The
// channel must have at least two HeaderBlockSize slots at its start.
func NewHeaderStore(channel *BlockChannel) *HeaderStore {
	return &HeaderStore{channel: channel}
}

// slotPosition returns the physical byte offset of header slot i (0 or 1).
func slotPosition(i int) int64 {
	return int64(i) * HeaderBlockSize
}

// Recover reads both header slots, discards any with bad magic/CRC, and
// selects the survivor with the greatest last_write_ts. If neither
// survives, a fresh header is synthesized from defaultCapacity/defaultMax
// and the WAL is treated as empty. The recovered (or fresh) header becomes
// the current in-memory header and is returned.
func (s *HeaderStore) Recover(defaultCapacity, defaultWindowMax uint64) (*Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates [2]*Header
	for i := 0; i < 2; i++ {
		buf := make([]byte, HeaderBlockSize)
		if _, err := s.channel.Read(buf, slotPosition(i)); err != nil {
			continue
		}
		h, err := decodeHeaderBlock(buf)
		if err != nil {
			continue
		}
		candidates[i] = h
	}

	var best *Header
	bestSlot := 0
	for i, c := range candidates {
		if c == nil {
			continue
		}
		if best == nil || c.LastWriteTS > best.LastWriteTS {
			best = c
			bestSlot = i
		}
	}

	if best == nil {
		best = &Header{
			Magic:                 HeaderMagic,
			Capacity:              defaultCapacity,
			TrimOffset:            0,
			WindowNextWriteOffset: 0,
			WindowStartOffset:     0,
			WindowMaxLength:       defaultWindowMax,
			ShutdownType:          ShutdownGraceful,
		}
		bestSlot = 0
	}

	s.current = *best
	s.nextSlot = (bestSlot + 1) % 2
	return &s.current, nil
}

// Flush writes fields into the current header, stamps last_write_ts from
// the monotonic clock, writes it to the next slot round-robin, and
// syncs. Returns the flushed header (a copy).
func (s *HeaderStore) Flush(mutate func(h *Header), shutdown ShutdownType) (Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mutate != nil {
		mutate(&s.current)
	}
	s.current.Magic = HeaderMagic
	s.current.ShutdownType = shutdown
	s.current.LastWriteTS = s.clock.now()

	buf := s.current.encode()
	slot := s.nextSlot
	if err := s.channel.Write(buf, slotPosition(slot)); err != nil {
		return s.current, newErr(KindIO, "header.flush", err)
	}
	if err := s.channel.Sync(); err != nil {
		return s.current, newErr(KindIO, "header.flush", err)
	}
	s.nextSlot = (slot + 1) % 2
	return s.current, nil
}

// Current returns a copy of the in-memory header without flushing.
func (s *HeaderStore) Current() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
