package vectorindex

import (
	"context"
	"hash/fnv"
)

// DeterministicStub is a hash-based Embedder for tests and degraded
// operation when no real embedding model is configured. It produces
// repeatable, content-sensitive vectors without any external call,
// mirroring summarizer.DeterministicStub's role for the summarizer
// capability.
type DeterministicStub struct {
	dim         int
	fingerprint string
}

// NewDeterministicStub returns a stub Embedder producing dim-dimensional
// vectors.
func NewDeterministicStub(dim int) *DeterministicStub {
	return &DeterministicStub{dim: dim, fingerprint: "stub-hash-v1"}
}

// Embed hashes overlapping trigrams of text into dim buckets, giving
// semantically-similar-looking text (shared substrings) a nonzero dot
// product while remaining fully deterministic.
func (s *DeterministicStub) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dim)
	if len(text) == 0 {
		return vec, nil
	}
	runes := []rune(text)
	n := 3
	if len(runes) < n {
		n = len(runes)
	}
	for i := 0; i+n <= len(runes); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(runes[i : i+n])))
		bucket := int(h.Sum32()) % s.dim
		if bucket < 0 {
			bucket += s.dim
		}
		vec[bucket]++
	}
	return vec, nil
}

// Dimension returns the stub's fixed vector width.
func (s *DeterministicStub) Dimension() int { return s.dim }

// ModelFingerprint identifies this stub's embedding scheme, so Rebuild
// can detect a real model swapping in underneath it. It is the same for
// every dimension; Rebuild tells dimensions apart by vector length.
func (s *DeterministicStub) ModelFingerprint() string { return s.fingerprint }
