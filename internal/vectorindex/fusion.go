package vectorindex

import (
	"sort"

	"github.com/agentmemory/memoryd/internal/types"
)

// FusionWeights tunes Reciprocal Rank Fusion between BM25 and vector
// rankings (spec.md §4.9 Hybrid Search).
type FusionWeights struct {
	BM25Weight   float64
	VectorWeight float64
}

// DefaultFusionWeights matches spec.md's documented defaults.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{BM25Weight: 0.5, VectorWeight: 0.5}
}

// rrfConstant is the "60" in "1/(60+rank)", per spec.md §4.9.
const rrfConstant = 60

// Fuse combines bm25Hits and vectorHits via Reciprocal Rank Fusion,
// keyed by DocID. An entity present in only one ranking receives the
// other component's score as zero; the returned hits retain both
// component scores for explainability.
func Fuse(bm25Hits, vectorHits []types.SearchHit, weights FusionWeights) []types.SearchHit {
	byID := make(map[string]*types.SearchHit)

	order := func(id string) *types.SearchHit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &types.SearchHit{DocID: id}
		byID[id] = h
		return h
	}

	for rank, h := range bm25Hits {
		entry := order(h.DocID)
		entry.BM25Score = h.Score
		entry.DocType = h.DocType
		entry.AgentID = h.AgentID
		entry.Highlights = h.Highlights
		entry.Score += weights.BM25Weight * rrfTerm(rank)
	}
	for rank, h := range vectorHits {
		entry := order(h.DocID)
		entry.VecScore = h.Score
		if entry.DocType == "" {
			entry.DocType = h.DocType
		}
		if entry.AgentID == "" {
			entry.AgentID = h.AgentID
		}
		entry.Score += weights.VectorWeight * rrfTerm(rank)
	}

	fused := make([]types.SearchHit, 0, len(byID))
	for _, h := range byID {
		fused = append(fused, *h)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return fused
}

func rrfTerm(rank int) float64 {
	return 1.0 / float64(rrfConstant+rank+1)
}
