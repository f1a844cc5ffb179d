package pruner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/bm25index"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

func newTestPruner(t *testing.T) (*Pruner, *bm25index.Index, *vectorindex.Index) {
	t.Helper()
	bm25, err := bm25index.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	vec, err := vectorindex.Open(context.Background(), k, vectorindex.NewDeterministicStub(8), nil)
	require.NoError(t, err)

	return New(bm25, vec, nil), bm25, vec
}

func seedLevel(t *testing.T, bm25 *bm25index.Index, vec *vectorindex.Index, docType types.DocType, docID string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, bm25.UpsertDoc(types.BM25Doc{
		DocID: docID, DocType: docType, Text: "some content about " + docID, CreatedAt: createdAt,
	}))
	require.NoError(t, bm25.Commit(context.Background()))
	require.NoError(t, vec.EmbedAndUpsert(context.Background(), docID, "some content about "+docID, docType, ""))
}

func TestRunPrunesExpiredSegmentsButSkipsProtectedLevels(t *testing.T) {
	p, bm25, vec := newTestPruner(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	seedLevel(t, bm25, vec, types.DocSegment, "old-segment", now.Add(-40*24*time.Hour))
	seedLevel(t, bm25, vec, types.DocSegment, "new-segment", now.Add(-1*time.Hour))
	seedLevel(t, bm25, vec, types.DocMonth, "old-month", now.Add(-1000*24*time.Hour))

	cfg := DefaultConfig()
	cfg.Rules = append(cfg.Rules, Rule{Level: types.LevelMonth, Retention: 30 * 24 * time.Hour})
	cfg.Now = now
	report, err := p.Run(context.Background(), cfg)
	require.NoError(t, err)

	var segReport, monthReport *LevelReport
	for i := range report.Levels {
		switch report.Levels[i].Level {
		case types.LevelSegment:
			segReport = &report.Levels[i]
		case types.LevelMonth:
			monthReport = &report.Levels[i]
		}
	}
	require.NotNil(t, segReport)
	assert.Equal(t, 1, segReport.BM25Pruned)
	assert.Equal(t, 1, segReport.VectorPruned)
	assert.False(t, segReport.Skipped)

	require.NotNil(t, monthReport)
	assert.True(t, monthReport.Skipped, "month is in ProtectedLevels and must never be swept")

	status, err := bm25.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status.DocCount, "new-segment and old-month both survive")
}

func TestRunDryRunReportsCountsWithoutDeleting(t *testing.T) {
	p, bm25, vec := newTestPruner(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	seedLevel(t, bm25, vec, types.DocSegment, "old-segment", now.Add(-40*24*time.Hour))

	cfg := DefaultConfig()
	cfg.Now = now
	cfg.DryRun = true
	report, err := p.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, report.DryRun)

	var segReport *LevelReport
	for i := range report.Levels {
		if report.Levels[i].Level == types.LevelSegment {
			segReport = &report.Levels[i]
		}
	}
	require.NotNil(t, segReport)
	assert.Equal(t, 1, segReport.BM25Pruned)

	status, err := bm25.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.DocCount, "dry-run must not delete anything")
}

func TestOverrideRulesReplacesMatchingLevel(t *testing.T) {
	base := DefaultRules()
	overridden := OverrideRules(base, types.LevelSegment, 7)

	for _, r := range overridden {
		if r.Level == types.LevelSegment {
			assert.Equal(t, 7*24*time.Hour, r.Retention)
			return
		}
	}
	t.Fatal("segment rule not found")
}

func TestOverrideRulesAppendsUnknownLevel(t *testing.T) {
	base := DefaultRules()
	overridden := OverrideRules(base, types.LevelYear, 9999)

	found := false
	for _, r := range overridden {
		if r.Level == types.LevelYear {
			found = true
		}
	}
	assert.True(t, found)
	assert.Len(t, overridden, len(base)+1)
}

func TestLastReportReturnsMostRecentRun(t *testing.T) {
	p, bm25, vec := newTestPruner(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	seedLevel(t, bm25, vec, types.DocSegment, "old-segment", now.Add(-40*24*time.Hour))

	cfg := DefaultConfig()
	cfg.Now = now
	_, err := p.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, now, p.LastReport().RunAt)
}
