package bm25index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/types"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestUpsertNotSearchableUntilCommit(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertDoc(types.BM25Doc{
		DocID:     "n1",
		DocType:   types.DocTocNode,
		Title:     "retry budget configuration",
		Text:      "discussed exponential backoff settings",
		CreatedAt: time.Now(),
	}))

	hits, err := idx.Search(ctx, "retry budget", 10, SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, hits, "uncommitted documents must not be searchable")

	require.NoError(t, idx.Commit(ctx))

	hits, err = idx.Search(ctx, "retry budget", 10, SearchFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "n1", hits[0].DocID)
}

func TestSearchFiltersByDocType(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertDoc(types.BM25Doc{
		DocID: "node-1", DocType: types.DocTocNode, Title: "deployment process", Text: "steps to deploy", CreatedAt: time.Now(),
	}))
	require.NoError(t, idx.UpsertDoc(types.BM25Doc{
		DocID: "grip-1", DocType: types.DocGrip, Text: "deployment excerpt text", CreatedAt: time.Now(),
	}))
	require.NoError(t, idx.Commit(ctx))

	hits, err := idx.Search(ctx, "deployment", 10, SearchFilter{DocTypes: []types.DocType{types.DocGrip}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "grip-1", hits[0].DocID)
}

func TestDeleteBeforeRemovesOldDocs(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	old := time.Now().Add(-365 * 24 * time.Hour)
	recent := time.Now()

	require.NoError(t, idx.UpsertDoc(types.BM25Doc{DocID: "old-1", DocType: types.DocSegment, Text: "old segment", CreatedAt: old}))
	require.NoError(t, idx.UpsertDoc(types.BM25Doc{DocID: "new-1", DocType: types.DocSegment, Text: "new segment", CreatedAt: recent}))
	require.NoError(t, idx.Commit(ctx))

	deleted, err := idx.DeleteBefore(ctx, types.DocSegment, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	status, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.DocCount)
}

func TestStatusReportsDocCount(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertDoc(types.BM25Doc{DocID: "a", DocType: types.DocTocNode, Title: "x", CreatedAt: time.Now()}))
	require.NoError(t, idx.Commit(ctx))

	status, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.Equal(t, uint64(1), status.DocCount)
}

func TestPendingCount(t *testing.T) {
	idx := newTestIndex(t)
	assert.Equal(t, 0, idx.PendingCount())
	require.NoError(t, idx.UpsertDoc(types.BM25Doc{DocID: "a", DocType: types.DocTocNode, CreatedAt: time.Now()}))
	assert.Equal(t, 1, idx.PendingCount())
	require.NoError(t, idx.Commit(context.Background()))
	assert.Equal(t, 0, idx.PendingCount())
}
