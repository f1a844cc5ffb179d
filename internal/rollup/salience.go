package rollup

import (
	"regexp"
	"strings"

	"github.com/agentmemory/memoryd/internal/types"
)

// triggerPatterns map MemoryKind to the phrase families spec.md §4.7
// lists for detecting it. Checked in declaration order; the first match
// wins, with KindObservation as the default.
var triggerPatterns = []struct {
	kind    types.MemoryKind
	pattern *regexp.Regexp
}{
	{types.KindPreference, regexp.MustCompile(`(?i)\b(prefer|like|avoid|dislike|rather)\b`)},
	{types.KindConstraint, regexp.MustCompile(`(?i)\b(must|should|need to|required to|never|always)\b`)},
	{types.KindProcedure, regexp.MustCompile(`(?i)\b(step|first|then|next|finally)\b`)},
	{types.KindDefinition, regexp.MustCompile(`(?i)\b(is defined as|means|refers to)\b`)},
}

// DetectKind classifies text per spec.md §4.7's trigger-phrase scan.
// Called once at TocNode/Grip creation time (I9); never recomputed.
func DetectKind(text string) types.MemoryKind {
	for _, tp := range triggerPatterns {
		if tp.pattern.MatchString(text) {
			return tp.kind
		}
	}
	return types.KindObservation
}

// kindBoost is the per-kind contribution to salience; non-observation
// kinds carry signal that is more often worth resurfacing.
var kindBoost = map[types.MemoryKind]float64{
	types.KindObservation: 0.0,
	types.KindPreference:  0.15,
	types.KindConstraint:  0.15,
	types.KindProcedure:   0.10,
	types.KindDefinition:  0.10,
}

const (
	salienceBase       = 0.55
	lengthDensityWeight = 0.15
	kindWeight          = 1.0
	pinnedBoost         = 0.10
)

// densityScore approximates "information density" as the fraction of
// distinct, non-trivial words in the text, capped at 1.0. A short but
// dense bullet and a long repetitive one both land near their intuitive
// salience this way.
func densityScore(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	seen := map[string]bool{}
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,!?:;\"'()"))
		if len(w) > 2 {
			seen[w] = true
		}
	}
	score := float64(len(seen)) / float64(len(words))
	if score > 1 {
		score = 1
	}
	return score
}

// Salience computes a TocNode or Grip's salience score per spec.md
// §4.7's formula, clamped to [0, 1]. Computed once at creation (I9).
func Salience(text string, kind types.MemoryKind, isPinned bool) float64 {
	score := salienceBase
	score += lengthDensityWeight * densityScore(text)
	score += kindWeight * kindBoost[kind]
	if isPinned {
		score += pinnedBoost
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
