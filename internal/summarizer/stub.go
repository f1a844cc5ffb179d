package summarizer

import (
	"context"
	"sort"
	"strings"
)

// stopwords excluded from keyword extraction; deliberately small, this
// is a heuristic fallback, not a linguistic keyword extractor.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "to": true,
	"of": true, "and": true, "in": true, "it": true, "for": true, "on": true,
	"was": true, "with": true, "that": true, "this": true, "i": true, "you": true,
}

// DeterministicStub is a dependency-free Capability used in tests and
// whenever no real summarization backend is configured: it extracts a
// title, summary, and keywords from the transcript with no external
// call. It never errors, so Driver's retry loop exercises it once and
// returns the real result, not the degraded fallback.
type DeterministicStub struct {
	MaxKeywords int
}

// NewDeterministicStub returns a stub extracting up to maxKeywords
// keywords (default 8 if maxKeywords <= 0).
func NewDeterministicStub(maxKeywords int) *DeterministicStub {
	if maxKeywords <= 0 {
		maxKeywords = 8
	}
	return &DeterministicStub{MaxKeywords: maxKeywords}
}

// Summarize implements Capability with a frequency-based heuristic: the
// first non-empty line becomes the title, the full transcript
// (truncated) becomes the summary, and the most frequent non-stopword
// tokens become keywords and the sole bullet's text.
func (d *DeterministicStub) Summarize(_ context.Context, transcript string) (Result, error) {
	lines := strings.Split(strings.TrimSpace(transcript), "\n")
	title := "conversation segment"
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			title = truncate(line, 80)
			break
		}
	}

	keywords := topKeywords(transcript, d.MaxKeywords)

	summary := truncate(transcript, 2000)

	var bullet BulletOutput
	if len(lines) > 0 {
		bullet = BulletOutput{
			Text:        truncate(strings.Join(keywords, ", "), 200),
			ExcerptText: truncate(lines[0], 200),
		}
	}

	bullets := []BulletOutput{}
	if bullet.Text != "" {
		bullets = append(bullets, bullet)
	}

	return Result{
		Title:    title,
		Summary:  summary,
		Bullets:  bullets,
		Keywords: keywords,
	}, nil
}

func topKeywords(text string, max int) []string {
	counts := map[string]int{}
	for _, raw := range strings.Fields(text) {
		w := strings.ToLower(strings.Trim(raw, ".,!?:;\"'()[]{}"))
		if len(w) < 3 || stopwords[w] {
			continue
		}
		counts[w]++
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, 0, len(ranked))
	for _, kv := range ranked {
		out = append(out, kv.word)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
