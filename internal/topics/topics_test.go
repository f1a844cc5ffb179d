package topics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

func newTestJob(t *testing.T) (*Job, *tocstore.Store, *vectorindex.Index) {
	t.Helper()
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	toc := tocstore.New(k)
	vec, err := vectorindex.Open(context.Background(), k, vectorindex.NewDeterministicStub(32), nil)
	require.NoError(t, err)

	return New(k, toc, vec, nil, DefaultConfig(), nil), toc, vec
}

func putNode(t *testing.T, toc *tocstore.Store, vec *vectorindex.Index, title, text string, keywords []string, at time.Time) types.TocNode {
	t.Helper()
	ctx := context.Background()
	node, err := toc.Put(ctx, types.TocNode{
		Level:     types.LevelDay,
		Title:     title,
		Summary:   text,
		Keywords:  keywords,
		StartTime: at,
		EndTime:   at.Add(time.Hour),
		ContributingAgents: []string{"agent-1"},
	})
	require.NoError(t, err)
	require.NoError(t, vec.EmbedAndUpsert(ctx, node.NodeID, title+" "+text, types.DocDay, "agent-1"))
	return node
}

func TestExtractClustersSimilarNodesIntoOneTopic(t *testing.T) {
	job, toc, vec := newTestJob(t)
	at := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	putNode(t, toc, vec, "retry config", "how to configure retry backoff settings", []string{"retry", "backoff"}, at)
	putNode(t, toc, vec, "retry tuning", "tuning retry backoff for the outbox consumer", []string{"retry", "backoff"}, at.Add(time.Hour))
	putNode(t, toc, vec, "retry defaults", "default retry backoff values", []string{"retry", "backoff"}, at.Add(2*time.Hour))
	putNode(t, toc, vec, "weather", "the weather today is pleasant in paris", []string{"weather"}, at.Add(3*time.Hour))

	written, err := job.Extract(context.Background(), nil, at.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, written, "only the 3-node retry cluster should meet min cluster size; the lone weather node should not")

	status, err := job.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.TopicCount)
	assert.Equal(t, 3, status.LinkCount)
}

func TestExtractDropsClustersBelowMinSize(t *testing.T) {
	job, toc, vec := newTestJob(t)
	at := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	putNode(t, toc, vec, "a", "alpha beta gamma content", []string{"alpha"}, at)
	putNode(t, toc, vec, "b", "unrelated delta epsilon content", []string{"delta"}, at.Add(time.Hour))

	written, err := job.Extract(context.Background(), nil, at.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}

func TestGetTopicsByQueryRanksByCentroidSimilarity(t *testing.T) {
	job, toc, vec := newTestJob(t)
	at := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	putNode(t, toc, vec, "retry config", "retry backoff configuration settings", []string{"retry"}, at)
	putNode(t, toc, vec, "retry tuning", "retry backoff tuning for consumers", []string{"retry"}, at.Add(time.Hour))
	putNode(t, toc, vec, "retry defaults", "retry backoff default values", []string{"retry"}, at.Add(2*time.Hour))

	_, err := job.Extract(context.Background(), nil, at.Add(-24*time.Hour))
	require.NoError(t, err)

	results, err := job.GetTopicsByQuery(context.Background(), "retry backoff configuration", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestGetTopTopicsFiltersByAgent(t *testing.T) {
	job, toc, vec := newTestJob(t)
	at := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	putNode(t, toc, vec, "a", "shared topic content alpha", []string{"alpha"}, at)
	putNode(t, toc, vec, "b", "shared topic content alpha too", []string{"alpha"}, at.Add(time.Hour))
	putNode(t, toc, vec, "c", "shared topic content alpha also", []string{"alpha"}, at.Add(2*time.Hour))

	_, err := job.Extract(context.Background(), nil, at.Add(-24*time.Hour))
	require.NoError(t, err)

	results, err := job.GetTopTopics(context.Background(), 10, time.Time{}, time.Time{}, "agent-1")
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	results, err = job.GetTopTopics(context.Background(), 10, time.Time{}, time.Time{}, "nonexistent-agent")
	require.NoError(t, err)
	assert.Empty(t, results)
}
