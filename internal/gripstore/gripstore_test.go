package gripstore

import (
	"context"
	"strings"
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

func TestPutMintsIDAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	grip, err := s.Put(ctx, types.Grip{
		Excerpt:      "user asked about retry budgets",
		EventIDStart: "e1",
		EventIDEnd:   "e2",
		Timestamp:    time.Now(),
		Source:       "session_excerpt",
	})
	require.NoError(t, err)
	assert.Len(t, grip.GripID, 26)

	got, found, err := s.Get(ctx, grip.GripID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, grip.Excerpt, got.Excerpt)
}

func TestPutTruncatesExcerpt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("x", types.MaxExcerptLen+50)
	grip, err := s.Put(ctx, types.Grip{
		Excerpt:   long,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, grip.Excerpt, types.MaxExcerptLen)
}

func TestPutIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	grip := types.Grip{
		GripID:    "1706745600000abcdefghjkmnp",
		Excerpt:   "original",
		Timestamp: time.Now(),
	}
	first, err := s.Put(ctx, grip)
	require.NoError(t, err)

	dup := grip
	dup.Excerpt = "changed"
	second, err := s.Put(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, first.GripID, second.GripID)
	assert.Equal(t, "original", second.Excerpt)
}

func TestGetManySkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g1, err := s.Put(ctx, types.Grip{Excerpt: "a", Timestamp: time.Now()})
	require.NoError(t, err)

	grips, err := s.GetMany(ctx, []string{g1.GripID, "does-not-exist"})
	require.NoError(t, err)
	require.Len(t, grips, 1)
	assert.Equal(t, g1.GripID, grips[0].GripID)
}

func TestRangeOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1706745600000)
	var ids []string
	for i := 0; i < 4; i++ {
		g, err := s.Put(ctx, types.Grip{
			Excerpt:   "grip",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		ids = append(ids, g.GripID)
	}

	grips, hasMore, err := s.Range(ctx, ids[0], ids[len(ids)-1], 0)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, grips, 4)
}
