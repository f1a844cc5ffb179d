package segmenter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/eventstore"
	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/outbox"
	"github.com/agentmemory/memoryd/internal/rollup"
	"github.com/agentmemory/memoryd/internal/summarizer"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
)

func newTestJob(t *testing.T) (*Job, *eventstore.Store, *tocstore.Store) {
	t.Helper()
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	events := eventstore.New(k)
	toc := tocstore.New(k)
	grips := gripstore.New(k)
	ob := outbox.New(k)
	driver := summarizer.NewDriver(summarizer.NewDeterministicStub(5), summarizer.DefaultConfig(), nil)
	rb := rollup.NewBuilder(toc, grips, ob, driver)

	job := NewJob(k, events, rb, Config{TimeGap: time.Minute}, nil)
	return job, events, toc
}

func TestRunOnceFlushesSessionOnceItLooksClosed(t *testing.T) {
	job, events, toc := newTestJob(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := events.Append(ctx, types.Event{
			SessionID: "s1", AgentID: "agent-1", Timestamp: base.Add(time.Duration(i) * time.Second),
			Role: types.RoleUser, Text: "hello there",
		})
		require.NoError(t, err)
	}
	// A gap well past TimeGap makes the session above look closed.
	_, err := events.Append(ctx, types.Event{
		SessionID: "s2", AgentID: "agent-1", Timestamp: base.Add(5 * time.Minute),
		Role: types.RoleUser, Text: "a different session entirely",
	})
	require.NoError(t, err)

	built, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, built, "s1 should have flushed, s2 is still open")

	nodes, _, err := toc.NodesInRange(ctx, types.LevelSegment, 0, base.Add(time.Hour).UnixMilli(), 10)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestRunOnceLeavesRecentSessionBuffered(t *testing.T) {
	job, events, toc := newTestJob(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := events.Append(ctx, types.Event{
		SessionID: "s1", AgentID: "agent-1", Timestamp: now, Role: types.RoleUser, Text: "still talking",
	})
	require.NoError(t, err)

	built, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, built)

	nodes, _, err := toc.NodesInRange(ctx, types.LevelSegment, 0, now.Add(time.Hour).UnixMilli(), 10)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestFlushForceClosesOpenSessions(t *testing.T) {
	job, events, toc := newTestJob(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := events.Append(ctx, types.Event{
		SessionID: "s1", AgentID: "agent-1", Timestamp: now, Role: types.RoleUser, Text: "wrap it up",
	})
	require.NoError(t, err)

	_, err = job.RunOnce(ctx)
	require.NoError(t, err)

	built, err := job.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, built)

	nodes, _, err := toc.NodesInRange(ctx, types.LevelSegment, 0, now.Add(time.Hour).UnixMilli(), 10)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestRunOnceIsIdempotentAcrossCalls(t *testing.T) {
	job, events, toc := newTestJob(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	_, err := events.Append(ctx, types.Event{
		SessionID: "s1", AgentID: "agent-1", Timestamp: base, Role: types.RoleUser, Text: "closed session",
	})
	require.NoError(t, err)
	_, err = events.Append(ctx, types.Event{
		SessionID: "s2", AgentID: "agent-1", Timestamp: base.Add(5 * time.Minute), Role: types.RoleUser, Text: "later session",
	})
	require.NoError(t, err)

	built1, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, built1)

	built2, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, built2, "re-running with no new events should not re-segment")

	nodes, _, err := toc.NodesInRange(ctx, types.LevelSegment, 0, base.Add(time.Hour).UnixMilli(), 10)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
