// Package ranking applies the final scoring pass over retrieval
// candidates (spec.md §4.14): similarity from BM25/vector/RRF fusion,
// adjusted by salience and usage-decay signals, each individually
// feature-flagged, with a master kill-switch back to pure similarity.
package ranking

import (
	"context"
	"sort"

	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/usage"
)

// Config is the ranking feature-flag set. KillSwitch, when true,
// overrides every other flag and scores candidates by similarity
// alone — an emergency rollback lever per spec.md §4.14.
type Config struct {
	KillSwitch        bool
	SalienceEnabled   bool
	UsageDecayEnabled bool
	DecayFactor       float64 // default 0.1
}

// DefaultConfig enables both signals with a conservative decay factor.
func DefaultConfig() Config {
	return Config{
		SalienceEnabled:   true,
		UsageDecayEnabled: true,
		DecayFactor:       0.1,
	}
}

// Candidate is one retrieval result awaiting final scoring. Salience
// comes from the candidate's TocNode/Grip; Usage is looked up via
// internal/usage's cache-first read path.
type Candidate struct {
	DocID      string
	Similarity float64
	Salience   float64
	DocType    types.DocType
}

// Score applies Config's formula to one candidate's similarity, given
// its already-resolved usage counter.
func Score(cfg Config, similarity, salience float64, counter types.UsageCounter) float64 {
	score := similarity
	if cfg.KillSwitch {
		return score
	}
	if cfg.SalienceEnabled {
		score *= 0.55 + 0.45*salience
	}
	if cfg.UsageDecayEnabled {
		score *= 1.0 / (1.0 + cfg.DecayFactor*float64(counter.AccessCount))
	}
	return score
}

// Rank scores candidates and returns them as hits sorted by descending
// score (candidates itself is left unchanged), consulting counters in
// a single cache-first batch call so the hot ranking path never blocks
// on a durable read.
func Rank(ctx context.Context, cfg Config, counters *usage.Counters, candidates []Candidate) []types.SearchHit {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.DocID
	}

	var usageByID map[string]types.UsageCounter
	if counters != nil {
		usageByID = counters.GetBatchCached(ctx, ids)
	}

	hits := make([]types.SearchHit, len(candidates))
	for i, c := range candidates {
		counter := usageByID[c.DocID]
		hits[i] = types.SearchHit{
			DocID:   c.DocID,
			DocType: c.DocType,
			Score:   Score(cfg, c.Similarity, c.Salience, counter),
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits
}
