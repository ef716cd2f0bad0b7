package metadata

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldforge/streamwal/pkg/types"
)

// MemoryClient is an in-memory Client, suitable for tests and single-node
// operation: a guarded map plus an incrementing object-id counter. No
// ORM or persistence layer is warranted here since the interface
// boundary above is what the durability core actually depends on.
type MemoryClient struct {
	mu      sync.Mutex
	streams map[int64]types.StreamInfo
	objects map[int64]types.ObjectMetadata
	nextObj atomic.Int64
}

// NewMemoryClient constructs an empty in-memory metadata client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		streams: make(map[int64]types.StreamInfo),
		objects: make(map[int64]types.ObjectMetadata),
	}
}

// RegisterStream seeds a stream's opening state; used by tests and by a
// broker's stream-open path before handing control to the durability
// core.
func (m *MemoryClient) RegisterStream(info types.StreamInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[info.StreamID] = info
}

func (m *MemoryClient) GetOpeningStreams(ctx context.Context) ([]types.OpeningStreamEnd, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.OpeningStreamEnd, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, types.OpeningStreamEnd{StreamID: s.StreamID, Epoch: s.Epoch, EndOffset: s.EndOffset})
	}
	return out, nil
}

func (m *MemoryClient) PrepareObject(ctx context.Context, count int, ttl time.Duration) (int64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("metadata: prepare_object count must be positive, got %d", count)
	}
	first := m.nextObj.Add(int64(count)) - int64(count) + 1
	return first, nil
}

func (m *MemoryClient) CommitWalObject(ctx context.Context, req types.CommitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[req.ObjectID] = types.ObjectMetadata{
		ObjectID:     req.ObjectID,
		Bucket:       req.Bucket,
		Key:          req.Key,
		StreamRanges: req.StreamRanges,
		Size:         req.Size,
	}
	for _, r := range req.StreamRanges {
		s := m.streams[r.StreamID]
		s.StreamID = r.StreamID
		if r.EndOffset > s.EndOffset {
			s.EndOffset = r.EndOffset
		}
		m.streams[r.StreamID] = s
	}
	return nil
}

func (m *MemoryClient) GetServerObjects(ctx context.Context) ([]types.ObjectMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.ObjectMetadata, 0, len(m.objects))
	for _, o := range m.objects {
		out = append(out, o)
	}
	return out, nil
}

func (m *MemoryClient) GetStreams(ctx context.Context, ids []int64) ([]types.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.StreamInfo, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.streams[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryClient) CloseStream(ctx context.Context, id int64, epoch int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[id]
	if !ok {
		return fmt.Errorf("metadata: unknown stream %d", id)
	}
	if s.Epoch != epoch {
		return fmt.Errorf("metadata: stream %d epoch mismatch: have %d, closing %d", id, s.Epoch, epoch)
	}
	delete(m.streams, id)
	return nil
}
