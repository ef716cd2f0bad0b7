// Package wal implements the durability core's write-ahead log: a
// fixed-capacity ring buffer on a raw block device (or a preallocated
// file standing in for one), with a redundant dual-copy superblock, a
// sliding-window committer, and crash recovery.
package wal

import (
	"context"
	"sync"
	"time"
)

// ServiceConfig carries every WAL-relevant tunable from the config
// surface.
type ServiceConfig struct {
	Path                 string
	Capacity             int64
	DeviceBlockSize      int64
	HeaderFlushInterval  time.Duration
	IOThreads            int
	WindowInitial        int64
	WindowUpperLimit     int64
	WindowScaleUnit      int64
	BlockSoftLimit       int64
	CommitInterval       time.Duration
	ShutdownDrainTimeout time.Duration
}

// ApplyDefaults fills zero-valued fields with the spec's documented
// defaults.
func (c *ServiceConfig) ApplyDefaults() {
	if c.DeviceBlockSize <= 0 {
		c.DeviceBlockSize = DefaultBlockSize
	}
	if c.HeaderFlushInterval <= 0 {
		c.HeaderFlushInterval = 10 * time.Second
	}
	if c.IOThreads <= 0 {
		c.IOThreads = 8
	}
	if c.WindowInitial <= 0 {
		c.WindowInitial = 1 << 20 // 1 MiB
	}
	if c.WindowUpperLimit <= 0 {
		c.WindowUpperLimit = 512 << 20 // 512 MiB
	}
	if c.WindowScaleUnit <= 0 {
		c.WindowScaleUnit = 4 << 20 // 4 MiB
	}
	if c.BlockSoftLimit <= 0 {
		c.BlockSoftLimit = 128 << 10 // 128 KiB
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = 50 * time.Millisecond
	}
	if c.ShutdownDrainTimeout <= 0 {
		c.ShutdownDrainTimeout = 24 * time.Hour
	}
}

// HeaderReserve is the fixed space occupied by the two header slots.
const HeaderReserve = 2 * HeaderBlockSize

// Service is the Block WAL Service (C5): the public facade over the
// channel, header, and sliding window.
type Service struct {
	cfg     ServiceConfig
	channel *BlockChannel
	headers *HeaderStore
	window  *Window

	mu         sync.RWMutex
	ready      bool
	sectionCap int64

	flushStop chan struct{}
	flushDone chan struct{}
}

// NewService opens (creating if necessary) the block device/file at
// cfg.Path and prepares the header store, but does not yet recover or
// start the sliding window; call Start for that.
func NewService(cfg ServiceConfig) (*Service, error) {
	cfg.ApplyDefaults()

	channel, err := OpenBlockChannel(cfg.Path, cfg.Capacity, cfg.DeviceBlockSize)
	if err != nil {
		return nil, err
	}

	sectionCap := channel.Capacity() - HeaderReserve
	if sectionCap <= 0 {
		channel.Close()
		return nil, newErr(KindIO, "wal.new_service", ErrUnaligned)
	}

	return &Service{
		cfg:        cfg,
		channel:    channel,
		headers:    NewHeaderStore(channel),
		sectionCap: sectionCap,
	}, nil
}

// Start opens the channel's header, recovering the superblock, starts
// the header flusher background task, and starts the sliding window.
// Subsequent operations require Start to have completed.
func (s *Service) Start() error {
	h, err := s.headers.Recover(uint64(s.channel.Capacity()), uint64(s.cfg.WindowInitial))
	if err != nil {
		return newErr(KindCorruptHeader, "wal.start", err)
	}

	windowCfg := WindowConfig{
		HeaderReserve:    HeaderReserve,
		SectionCapacity:  s.sectionCap,
		DeviceBlockSize:  s.cfg.DeviceBlockSize,
		WindowUpperLimit: s.cfg.WindowUpperLimit,
		WindowScaleUnit:  s.cfg.WindowScaleUnit,
		BlockSoftLimit:   s.cfg.BlockSoftLimit,
		IOThreads:        s.cfg.IOThreads,
		CommitInterval:   s.cfg.CommitInterval,
	}
	onGrow := func(newMax uint64) {
		s.headers.Flush(func(hh *Header) { hh.WindowMaxLength = newMax }, ShutdownUngraceful)
	}
	s.window = NewWindow(s.channel, windowCfg, onGrow)
	s.window.Start(int64(h.WindowStartOffset), int64(h.WindowNextWriteOffset), int64(h.WindowMaxLength), s.cfg.IOThreads)

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	s.flushStop = make(chan struct{})
	s.flushDone = make(chan struct{})
	go s.headerFlushLoop()

	return nil
}

func (s *Service) headerFlushLoop() {
	defer close(s.flushDone)
	ticker := time.NewTicker(s.cfg.HeaderFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flushHeaderFromWindow(ShutdownUngraceful)
		case <-s.flushStop:
			return
		}
	}
}

func (s *Service) flushHeaderFromWindow(shutdown ShutdownType) {
	start := s.window.StartOffset()
	next := s.window.NextWriteOffset()
	s.headers.Flush(func(h *Header) {
		h.WindowStartOffset = uint64(start)
		h.WindowNextWriteOffset = uint64(next)
		h.Capacity = uint64(s.channel.Capacity())
	}, shutdown)
}

func (s *Service) requireReady(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return newErr(KindNotReady, op, nil)
	}
	return nil
}

// Peek recovers and returns the superblock without starting the sliding
// window or the header flush loop, for read-only inspection (e.g. a CLI
// status command) that must not mutate on-disk state.
func (s *Service) Peek() (Header, error) {
	h, err := s.headers.Recover(uint64(s.channel.Capacity()), uint64(s.cfg.WindowInitial))
	if err != nil {
		return Header{}, newErr(KindCorruptHeader, "wal.peek", err)
	}
	return *h, nil
}

// Close releases the underlying block channel. Only safe to call on a
// Service that was never Start-ed (e.g. after Peek), or after
// ShutdownGracefully has already closed the window.
func (s *Service) Close() error {
	return s.channel.Close()
}

// Recover returns a lazy iterator over records from trim_offset onward,
// aligned down to the device block size, per the recovery algorithm.
func (s *Service) Recover() (*RecoveryIterator, error) {
	if err := s.requireReady("wal.recover"); err != nil {
		return nil, err
	}
	h := s.headers.Current()
	return s.recoveryIteratorFor(&h), nil
}

// PeekRecover builds the same recovery iterator as Recover, but from a
// freshly-read superblock rather than requiring Start to have run first
// — for read-only inspection tools that must not start the sliding
// window or its background flusher.
func (s *Service) PeekRecover() (*RecoveryIterator, error) {
	h, err := s.Peek()
	if err != nil {
		return nil, err
	}
	return s.recoveryIteratorFor(&h), nil
}

// recoveryIteratorFor scans a full ring pass from the trim offset rather
// than stopping at the header's persisted window_next_write_offset: that
// value is only as current as the last header flush (every
// HeaderFlushInterval, or at Reset/shutdown), so records written after
// the last pre-crash flush would otherwise fall outside the scanned
// range and never be recovered. See RecoveryIterator's doc comment for
// why over-scanning the ring is safe.
func (s *Service) recoveryIteratorFor(h *Header) *RecoveryIterator {
	start := alignDown(int64(h.TrimOffset), s.cfg.DeviceBlockSize)
	return NewRecoveryIterator(s.channel, HeaderReserve, s.sectionCap, s.cfg.DeviceBlockSize, start, start+s.sectionCap)
}

func alignDown(v, align int64) int64 {
	return (v / align) * align
}

func alignUp(v, align int64) int64 {
	if rem := v % align; rem != 0 {
		return v + (align - rem)
	}
	return v
}

// Reset must be called exactly once after recovery completes, before
// Append. It introduces a deliberate one-block gap past the recovered
// next-write offset (invalidating any straggling records from the
// previous generation), then trims up to the previous next-write offset.
func (s *Service) Reset() error {
	if err := s.requireReady("wal.reset"); err != nil {
		return err
	}
	previousNext := s.window.NextWriteOffset()
	gapped := previousNext + int64(s.cfg.DeviceBlockSize)

	s.window.mu.Lock()
	s.window.nextWriteOffset = gapped
	s.window.startOffset = gapped
	s.window.current = newBlockAccumulator(gapped)
	s.window.confirmOffset = gapped
	s.window.mu.Unlock()

	return s.Trim(previousNext)
}

// Append frames body and coalesces it into the current block, returning
// the assigned logical offset and a completion future.
func (s *Service) Append(body []byte) (AppendResult, error) {
	if err := s.requireReady("wal.append"); err != nil {
		return AppendResult{}, err
	}
	return s.window.Append(body)
}

// Trim advances trim_offset to max(current, offset) and flushes the
// header (write and sync) before returning; the flush is not deferred to
// a background task. Precondition: offset < window_start_offset.
func (s *Service) Trim(offset int64) error {
	if err := s.requireReady("wal.trim"); err != nil {
		return err
	}
	if offset >= s.window.StartOffset() {
		return newErr(KindNotReady, "wal.trim", ErrTrimNotAllowed)
	}

	s.headers.Flush(func(h *Header) {
		if uint64(offset) > h.TrimOffset {
			h.TrimOffset = uint64(offset)
		}
	}, ShutdownUngraceful)
	return nil
}

// ConfirmOffset returns the WAL's current inclusive confirm offset.
func (s *Service) ConfirmOffset() int64 {
	return s.window.ConfirmOffset()
}

// WindowStartOffset and WindowNextWriteOffset expose the sliding
// window's current bounds, used by the orchestrator and cache.
func (s *Service) WindowStartOffset() int64     { return s.window.StartOffset() }
func (s *Service) WindowNextWriteOffset() int64 { return s.window.NextWriteOffset() }

// ShutdownGracefully stops the header flusher, drains the window with a
// bounded wait, flushes a final GRACEFUL header, and closes the channel.
// Returns whether the window drained cleanly within the configured
// timeout.
func (s *Service) ShutdownGracefully(ctx context.Context) bool {
	close(s.flushStop)
	<-s.flushDone

	drained := make(chan struct{})
	go func() {
		s.window.Shutdown()
		close(drained)
	}()

	timeout := s.cfg.ShutdownDrainTimeout
	clean := true
	select {
	case <-drained:
	case <-time.After(timeout):
		clean = false
	case <-ctx.Done():
		clean = false
	}

	shutdownType := ShutdownGraceful
	if !clean {
		shutdownType = ShutdownUngraceful
	}
	s.flushHeaderFromWindow(shutdownType)

	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()

	s.channel.Close()
	return clean
}
