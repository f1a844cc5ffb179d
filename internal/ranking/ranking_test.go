package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/usage"
)

func TestScoreKillSwitchReturnsPureSimilarity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KillSwitch = true
	score := Score(cfg, 0.8, 0.1, types.UsageCounter{AccessCount: 50})
	assert.Equal(t, 0.8, score)
}

func TestScoreAppliesSalienceMultiplier(t *testing.T) {
	cfg := Config{SalienceEnabled: true}
	score := Score(cfg, 1.0, 1.0, types.UsageCounter{})
	assert.InDelta(t, 1.0, score, 1e-9, "salience=1.0 should yield the full 0.55+0.45=1.0 multiplier")

	score = Score(cfg, 1.0, 0.0, types.UsageCounter{})
	assert.InDelta(t, 0.55, score, 1e-9, "salience=0.0 should yield the floor 0.55 multiplier")
}

func TestScoreAppliesUsageDecay(t *testing.T) {
	cfg := Config{UsageDecayEnabled: true, DecayFactor: 0.1}
	score := Score(cfg, 1.0, 0, types.UsageCounter{AccessCount: 10})
	assert.InDelta(t, 1.0/(1.0+0.1*10), score, 1e-9)
}

func TestRankOrdersDescendingByScore(t *testing.T) {
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer k.Close()
	counters, err := usage.New(k, usage.DefaultConfig(), nil)
	require.NoError(t, err)

	cfg := Config{} // no flags: pure similarity
	candidates := []Candidate{
		{DocID: "low", Similarity: 0.2},
		{DocID: "high", Similarity: 0.9},
		{DocID: "mid", Similarity: 0.5},
	}

	hits := Rank(context.Background(), cfg, counters, candidates)
	require.Len(t, hits, 3)
	assert.Equal(t, "high", hits[0].DocID)
	assert.Equal(t, "mid", hits[1].DocID)
	assert.Equal(t, "low", hits[2].DocID)
}

func TestRankAppliesUsageDecayFromCounters(t *testing.T) {
	k, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer k.Close()
	counters, err := usage.New(k, usage.DefaultConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		counters.RecordAccess(ctx, "heavily-used")
	}

	cfg := Config{UsageDecayEnabled: true, DecayFactor: 0.1}
	candidates := []Candidate{
		{DocID: "heavily-used", Similarity: 0.9},
		{DocID: "never-used", Similarity: 0.9},
	}

	hits := Rank(ctx, cfg, counters, candidates)
	require.Len(t, hits, 2)
	assert.Equal(t, "never-used", hits[0].DocID, "equal similarity but heavy usage decay should rank lower")
}
