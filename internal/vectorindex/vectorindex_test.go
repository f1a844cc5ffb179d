package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

func newTestIndex(t *testing.T) (*Index, *kv.Store) {
	t.Helper()
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	idx, err := Open(context.Background(), k, NewDeterministicStub(32), nil)
	require.NoError(t, err)
	return idx, k
}

func TestEmbedAndUpsertThenSearchFindsNearestNeighbor(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.EmbedAndUpsert(ctx, "n1", "configure retry backoff for the outbox consumer", types.DocTocNode, "agent-1"))
	require.NoError(t, idx.EmbedAndUpsert(ctx, "n2", "the weather in paris is pleasant today", types.DocTocNode, "agent-1"))

	hits, err := idx.Search(ctx, "retry backoff settings for the consumer", 5, SearchFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "n1", hits[0].DocID)
	assert.GreaterOrEqual(t, hits[0].Score, 0.0)
	assert.LessOrEqual(t, hits[0].Score, 1.0)
}

func TestSearchFiltersByDocTypeAndAgent(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.EmbedAndUpsert(ctx, "grip-1", "shared excerpt text", types.DocGrip, "agent-1"))
	require.NoError(t, idx.EmbedAndUpsert(ctx, "node-1", "shared excerpt text", types.DocTocNode, "agent-2"))

	hits, err := idx.Search(ctx, "shared excerpt text", 10, SearchFilter{DocTypes: []types.DocType{types.DocGrip}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "grip-1", hits[0].DocID)

	hits, err = idx.Search(ctx, "shared excerpt text", 10, SearchFilter{AgentID: "agent-2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "node-1", hits[0].DocID)
}

func TestRemoveDropsFromGraphAndDurableStore(t *testing.T) {
	idx, k := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.EmbedAndUpsert(ctx, "n1", "some text", types.DocSegment, ""))
	require.NoError(t, idx.Remove(ctx, "n1"))

	hits, err := idx.Search(ctx, "some text", 10, SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, found, err := k.Get(ctx, embBucket, []byte("n1"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRebuildReconstructsGraphFromPersistedRecords(t *testing.T) {
	idx, k := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.EmbedAndUpsert(ctx, "n1", "persisted content", types.DocTocNode, ""))

	fresh, err := Open(ctx, k, NewDeterministicStub(32), nil)
	require.NoError(t, err)

	status, err := fresh.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.VectorCount)
}

func TestRebuildDropsRecordsFromStaleModel(t *testing.T) {
	idx, k := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.EmbedAndUpsert(ctx, "n1", "some content", types.DocTocNode, ""))

	differentModel, err := Open(ctx, k, NewDeterministicStub(64), nil)
	require.NoError(t, err)

	status, err := differentModel.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.VectorCount, "records embedded under a different model (here a different dimension) must be dropped")
}

func TestStatusReportsDimensionAndFingerprint(t *testing.T) {
	idx, _ := newTestIndex(t)
	status, err := idx.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, status.Dimension)
	assert.Equal(t, "stub-hash-v1", status.ModelFingerprint)
	assert.True(t, status.Ready)
}

func TestFuseCombinesRankingsViaReciprocalRankFusion(t *testing.T) {
	bm25 := []types.SearchHit{{DocID: "a", Score: 5}, {DocID: "b", Score: 3}}
	vector := []types.SearchHit{{DocID: "b", Score: 0.9}, {DocID: "c", Score: 0.7}}

	fused := Fuse(bm25, vector, DefaultFusionWeights())
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].DocID, "b ranks first in both lists and should win the fused ranking")

	var aHit types.SearchHit
	for _, h := range fused {
		if h.DocID == "a" {
			aHit = h
		}
	}
	assert.Zero(t, aHit.VecScore, "entity absent from the vector ranking gets a zero vector component")
}
