package tocstore

import (
	"context"
	"testing"
	"time"

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

func TestPutMintsIDAndFirstVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node := types.TocNode{
		Level:     types.LevelDay,
		Title:     "day summary",
		StartTime: time.UnixMilli(1706745600000),
		EndTime:   time.UnixMilli(1706745600000 + 86400000),
	}
	stored, err := s.Put(ctx, node)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.NodeID)
	assert.Equal(t, 1, stored.Version)
}

func TestPutIncrementsVersionAndKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.Put(ctx, types.TocNode{
		Level:     types.LevelDay,
		Title:     "v1",
		StartTime: time.UnixMilli(1706745600000),
		EndTime:   time.UnixMilli(1706745600000 + 86400000),
	})
	require.NoError(t, err)

	v2, err := s.Put(ctx, types.TocNode{
		NodeID:    v1.NodeID,
		Level:     types.LevelDay,
		Title:     "v2",
		StartTime: v1.StartTime,
		EndTime:   v1.EndTime,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	latest, found, err := s.GetLatest(ctx, v1.NodeID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", latest.Title)

	history, err := s.ListVersions(ctx, v1.NodeID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "v1", history[0].Title)
	assert.Equal(t, "v2", history[1].Title)
}

func TestGetVersionReturnsImmutableSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.Put(ctx, types.TocNode{
		Level:     types.LevelDay,
		Title:     "first",
		StartTime: time.UnixMilli(1706745600000),
		EndTime:   time.UnixMilli(1706745600000 + 86400000),
	})
	require.NoError(t, err)
	_, err = s.Put(ctx, types.TocNode{
		NodeID:    v1.NodeID,
		Level:     types.LevelDay,
		Title:     "second",
		StartTime: v1.StartTime,
		EndTime:   v1.EndTime,
	})
	require.NoError(t, err)

	snap, found, err := s.GetVersion(ctx, v1.NodeID, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", snap.Title, "historical version 1 must remain unchanged")
}

func TestNodesInRangeFiltersByLevelAndTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day, err := s.Put(ctx, types.TocNode{
		Level:     types.LevelDay,
		Title:     "day node",
		StartTime: time.UnixMilli(1706745600000),
		EndTime:   time.UnixMilli(1706745600000 + 86400000),
	})
	require.NoError(t, err)
	_, err = s.Put(ctx, types.TocNode{
		Level:     types.LevelWeek,
		Title:     "week node",
		StartTime: time.UnixMilli(1706745600000),
		EndTime:   time.UnixMilli(1706745600000 + 7*86400000),
	})
	require.NoError(t, err)

	nodes, hasMore, err := s.NodesInRange(ctx, types.LevelDay, 1706745600000-1000, 1706745600000+1000, 0)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, nodes, 1)
	assert.Equal(t, day.NodeID, nodes[0].NodeID)
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, types.TocNode{
			Level:     types.LevelSegment,
			Title:     "seg",
			StartTime: time.UnixMilli(int64(1706745600000 + i*1000)),
			EndTime:   time.UnixMilli(int64(1706745600000 + i*1000 + 500)),
		})
		require.NoError(t, err)
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
