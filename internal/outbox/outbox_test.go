package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return New(k)
}

func TestEnqueueAssignsIncreasingSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1, err := s.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexTocNode, NodeID: "n1"})
	require.NoError(t, err)
	e2, err := s.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexTocNode, NodeID: "n2"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
}

func TestEnqueueWritesExtraAtomically(t *testing.T) {
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer k.Close()

	store := New(k)
	ctx := context.Background()

	_, err = store.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexGrip, GripID: "g1"},
		kv.Write{Bucket: "grips", Key: []byte("g1"), Value: []byte(`{"grip_id":"g1"}`)})
	require.NoError(t, err)

	v, found, err := k.Get(ctx, "grips", []byte("g1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(v), "g1")
}

func TestPollReturnsPendingInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexTocNode, NodeID: "n"})
		require.NoError(t, err)
	}

	entries, err := s.Poll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, uint64(2), entries[1].Sequence)
	assert.Equal(t, uint64(3), entries[2].Sequence)
}

func TestPollRespectsAfterSeqAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexTocNode, NodeID: "n"})
		require.NoError(t, err)
	}

	entries, err := s.Poll(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Sequence)
	assert.Equal(t, uint64(4), entries[1].Sequence)
}

func TestMarkStateAndState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexTocNode, NodeID: "n"})
	require.NoError(t, err)

	state, found, err := s.State(ctx, e.Sequence)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatePending, state)

	require.NoError(t, s.MarkState(ctx, e.Sequence, types.StateCompleted))
	state, found, err = s.State(ctx, e.Sequence)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StateCompleted, state)
}

func TestCheckpointAdvanceMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.GetCheckpoint(ctx, "indexer")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.LastProcessedSequence)

	require.NoError(t, s.AdvanceCheckpoint(ctx, "indexer", 5))
	cp, err = s.GetCheckpoint(ctx, "indexer")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.LastProcessedSequence)

	err = s.AdvanceCheckpoint(ctx, "indexer", 3)
	assert.Error(t, err, "checkpoint must never move backwards")

	cp, err = s.GetCheckpoint(ctx, "indexer")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.LastProcessedSequence, "failed advance must not have mutated the checkpoint")
}

func TestPendingCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Enqueue(ctx, types.OutboxPayload{Kind: types.PayloadIndexTocNode, NodeID: "n"})
		require.NoError(t, err)
	}
	n, err := s.PendingCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
