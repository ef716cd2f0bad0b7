package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// In-order completion
// ============================================================================

func TestSequencer_InOrderCompletionReleasesImmediately(t *testing.T) {
	s := New()
	r1 := &Request{StreamID: 1, Offset: 10}
	r2 := &Request{StreamID: 1, Offset: 20}
	s.Before(r1)
	s.Before(r2)

	ready := s.After(r1)
	require.Len(t, ready, 1)
	assert.Same(t, r1, ready[0])
	assert.Equal(t, int64(10), s.ConfirmOffset())

	ready = s.After(r2)
	require.Len(t, ready, 1)
	assert.Same(t, r2, ready[0])
	assert.Equal(t, int64(20), s.ConfirmOffset())
}

// ============================================================================
// Out-of-order completion held back until the head completes
// ============================================================================

func TestSequencer_OutOfOrderCompletionWithheldUntilHeadReady(t *testing.T) {
	s := New()
	r1 := &Request{StreamID: 1, Offset: 10}
	r2 := &Request{StreamID: 1, Offset: 20}
	s.Before(r1)
	s.Before(r2)

	// r2's physical write finishes first, but it must not be delivered
	// until r1 (the stream head) also completes.
	ready := s.After(r2)
	assert.Nil(t, ready, "P2: a stream must never deliver out of its append order")

	ready = s.After(r1)
	require.Len(t, ready, 2, "both requests become ready together once the head completes")
	assert.Same(t, r1, ready[0])
	assert.Same(t, r2, ready[1])
}

// ============================================================================
// Global confirm offset only advances across a contiguous persisted prefix
// ============================================================================

func TestSequencer_GlobalConfirmOffsetStallsOnGap(t *testing.T) {
	s := New()
	r1 := &Request{StreamID: 1, Offset: 10}
	r2 := &Request{StreamID: 2, Offset: 20}
	r3 := &Request{StreamID: 1, Offset: 30}
	s.Before(r1)
	s.Before(r2)
	s.Before(r3)

	s.After(r3)
	assert.Equal(t, int64(0), s.ConfirmOffset(), "r1/r2 haven't completed; global offset must not move")

	s.After(r2)
	assert.Equal(t, int64(0), s.ConfirmOffset(), "r1 still hasn't completed")

	s.After(r1)
	assert.Equal(t, int64(30), s.ConfirmOffset(), "r1, r2 and r3 are now a contiguous persisted prefix")
}

// ============================================================================
// Independent streams
// ============================================================================

func TestSequencer_StreamsAreIndependent(t *testing.T) {
	s := New()
	a1 := &Request{StreamID: 1, Offset: 1}
	b1 := &Request{StreamID: 2, Offset: 2}
	s.Before(a1)
	s.Before(b1)

	ready := s.After(b1)
	require.Len(t, ready, 1)
	assert.Same(t, b1, ready[0])

	ready = s.After(a1)
	require.Len(t, ready, 1)
	assert.Same(t, a1, ready[0])
}

func TestSequencer_AfterOnNonHeadReturnsNilUntilItBecomesHead(t *testing.T) {
	s := New()
	r1 := &Request{StreamID: 7, Offset: 1}
	r2 := &Request{StreamID: 7, Offset: 2}
	r3 := &Request{StreamID: 7, Offset: 3}
	s.Before(r1)
	s.Before(r2)
	s.Before(r3)

	ready := s.After(r2)
	assert.Nil(t, ready)
	ready = s.After(r3)
	assert.Nil(t, ready)

	ready = s.After(r1)
	require.Len(t, ready, 3)
}
