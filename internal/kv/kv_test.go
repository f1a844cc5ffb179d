package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "events", []byte("k1"), []byte("v1")))
	v, found, err := s.Get(ctx, "events", []byte("k1"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), v)

	_, found, err = s.Get(ctx, "events", []byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "toc", []byte("k"), []byte("v1")))
	require.NoError(t, s.Put(ctx, "toc", []byte("k"), []byte("v2")))
	v, found, err := s.Get(ctx, "toc", []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), v)
}

func TestPutIfAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.PutIfAbsent(ctx, "events", []byte("k"), []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.PutIfAbsent(ctx, "events", []byte("k"), []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	v, _, err := s.Get(ctx, "events", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v, "value from the losing write must not apply")
}

func TestBucketsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "events", []byte("k"), []byte("events-value")))
	require.NoError(t, s.Put(ctx, "grips", []byte("k"), []byte("grips-value")))

	v, _, err := s.Get(ctx, "events", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("events-value"), v)

	v, _, err = s.Get(ctx, "grips", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("grips-value"), v)
}

func TestIterRangeOrderingAndBounds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keys := []string{"0000000000001aaa", "0000000000002bbb", "0000000000003ccc", "0000000000004ddd"}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, "events", []byte(k), []byte("v-"+k)))
	}

	entries, hasMore, err := s.IterRange(ctx, "events",
		[]byte("0000000000001aaa"), []byte("0000000000003ccc"), 0)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, entries, 3)
	assert.Equal(t, keys[0], string(entries[0].Key))
	assert.Equal(t, keys[1], string(entries[1].Key))
	assert.Equal(t, keys[2], string(entries[2].Key))
}

func TestIterRangePagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, "events", []byte{byte('a' + i)}, []byte("v")))
	}

	entries, hasMore, err := s.IterRange(ctx, "events", []byte("a"), []byte("z"), 3)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Len(t, entries, 3)

	entries, hasMore, err = s.IterRange(ctx, "events", []byte("a"), []byte("z"), 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Len(t, entries, 5)
}

func TestBeforeReturnsDescendingExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, "events", []byte(k), []byte("v-"+k)))
	}

	entries, err := s.Before(ctx, "events", []byte("d"), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", string(entries[0].Key))
	assert.Equal(t, "b", string(entries[1].Key))
}

func TestAfterReturnsAscendingExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, "events", []byte(k), []byte("v-"+k)))
	}

	entries, err := s.After(ctx, "events", []byte("b"), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", string(entries[0].Key))
	assert.Equal(t, "d", string(entries[1].Key))
}

func TestBeforeAndAfterReturnEmptyAtBucketEdges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "events", []byte("a"), []byte("v")))

	before, err := s.Before(ctx, "events", []byte("a"), 10)
	require.NoError(t, err)
	assert.Empty(t, before)

	after, err := s.After(ctx, "events", []byte("a"), 10)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestBatchIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Batch(ctx, []Write{
		{Bucket: "events", Key: []byte("e1"), Value: []byte("v1")},
		{Bucket: "outbox", Key: []byte("o1"), Value: []byte("ov1")},
	})
	require.NoError(t, err)

	_, found, err := s.Get(ctx, "events", []byte("e1"))
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = s.Get(ctx, "outbox", []byte("o1"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBatchDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "events", []byte("k"), []byte("v")))
	require.NoError(t, s.Batch(ctx, []Write{{Bucket: "events", Key: []byte("k"), Value: nil}}))

	_, found, err := s.Get(ctx, "events", []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCountBucket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Put(ctx, "events", []byte{byte('a' + i)}, []byte("v")))
	}
	n, err := s.CountBucket(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = s.CountBucket(ctx, "grips")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
