package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDShapeAndOrdering(t *testing.T) {
	t1 := time.UnixMilli(1706745600000)
	t2 := time.UnixMilli(1706745600500)

	id1, err := NewEventID(t1)
	require.NoError(t, err)
	id2, err := NewEventID(t2)
	require.NoError(t, err)

	assert.Len(t, id1, 26)
	assert.Len(t, id2, 26)
	assert.Less(t, id1, id2, "later timestamp must sort after earlier timestamp")
}

func TestNewEventIDUnique(t *testing.T) {
	ts := time.UnixMilli(1706745600000)
	id1, err := NewEventID(ts)
	require.NoError(t, err)
	id2, err := NewEventID(ts)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2, "two IDs minted at the same millisecond must still differ")
}

func TestParseTimestampMillisRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1706745600123)
	id, err := NewEventID(ts)
	require.NoError(t, err)

	parsed, err := ParseTimestampMillis(id)
	require.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), parsed)
}

func TestSequenceKeyOrdering(t *testing.T) {
	assert.Less(t, SequenceKey(1), SequenceKey(2))
	assert.Less(t, SequenceKey(999), SequenceKey(1000))
	assert.Len(t, SequenceKey(42), 16)
}

func TestVersionKeyWidth(t *testing.T) {
	assert.Equal(t, "000001", VersionKey(1))
	assert.Less(t, VersionKey(9), VersionKey(10))
}
