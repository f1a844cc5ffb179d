package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/outbox"
	"github.com/agentmemory/memoryd/internal/segmenter"
	"github.com/agentmemory/memoryd/internal/summarizer"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
)

func TestDetectKind(t *testing.T) {
	assert.Equal(t, types.KindPreference, DetectKind("I prefer dark mode"))
	assert.Equal(t, types.KindConstraint, DetectKind("You must never commit secrets"))
	assert.Equal(t, types.KindProcedure, DetectKind("First run tests, then deploy"))
	assert.Equal(t, types.KindDefinition, DetectKind("A grip is defined as an excerpt anchor"))
	assert.Equal(t, types.KindObservation, DetectKind("the build finished"))
}

func TestSalienceIsClampedAndBoostedByPinning(t *testing.T) {
	base := Salience("the build finished", types.KindObservation, false)
	pinned := Salience("the build finished", types.KindObservation, true)
	assert.Greater(t, pinned, base)
	assert.LessOrEqual(t, pinned, 1.0)
	assert.GreaterOrEqual(t, base, 0.0)
}

func TestPeriodBoundsDay(t *testing.T) {
	at := time.Date(2026, 1, 30, 14, 22, 0, 0, time.UTC)
	start, end := PeriodBounds(types.LevelDay, at)
	assert.Equal(t, "2026-01-30T00:00:00Z", start.Format(time.RFC3339))
	assert.Equal(t, "2026-01-31T00:00:00Z", end.Format(time.RFC3339))
}

func TestNodeIDDeterministic(t *testing.T) {
	at := time.Date(2026, 1, 30, 14, 22, 0, 0, time.UTC)
	assert.Equal(t, "toc:day:2026-01-30", NodeID(types.LevelDay, at))
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	toc := tocstore.New(k)
	grips := gripstore.New(k)
	ob := outbox.New(k)
	driver := summarizer.NewDriver(summarizer.NewDeterministicStub(5), summarizer.DefaultConfig(), nil)
	return NewBuilder(toc, grips, ob, driver)
}

func TestBuildSegmentWritesNodeAndGrips(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	base := time.UnixMilli(1706745600000)

	events := []types.Event{
		{EventID: "e1", Timestamp: base, Role: types.RoleUser, Text: "how do I configure retries"},
		{EventID: "e2", Timestamp: base.Add(time.Minute), Role: types.RoleAssistant, Text: "set max_retries in config"},
	}
	segs := segmenter.Segment(events, segmenter.Config{})
	require.Len(t, segs, 1)

	node, err := b.BuildSegment(ctx, segs[0], "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.LevelSegment, node.Level)
	assert.Equal(t, 1, node.Version)
	assert.Contains(t, node.ContributingAgents, "agent-1")

	latest, found, err := b.toc.GetLatest(ctx, node.NodeID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, node.Title, latest.Title)
}

func TestRollupPromotesSegmentsToDay(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC)

	events := []types.Event{
		{EventID: "e1", Timestamp: day, Role: types.RoleUser, Text: "morning question"},
		{EventID: "e2", Timestamp: day.Add(time.Minute), Role: types.RoleAssistant, Text: "morning answer"},
	}
	segs := segmenter.Segment(events, segmenter.Config{})
	require.Len(t, segs, 1)
	_, err := b.BuildSegment(ctx, segs[0], "agent-1")
	require.NoError(t, err)

	parent, ok, err := b.Rollup(ctx, types.LevelSegment, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.LevelDay, parent.Level)
	assert.Equal(t, "toc:day:2026-01-30", parent.NodeID)
	assert.Len(t, parent.ChildNodeIDs, 1)
	assert.Contains(t, parent.ContributingAgents, "agent-1")
}

func TestRollupWithNoChildrenReturnsNotFound(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()

	_, ok, err := b.Rollup(ctx, types.LevelSegment, time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRollupAtYearLevelHasNoParent(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	_, ok, err := b.Rollup(ctx, types.LevelYear, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}
