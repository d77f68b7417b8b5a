// Package identity holds the pure numeric core of the service: cosine
// similarity over face embeddings and density-based clustering of faces
// that have no person assigned yet. Nothing in here touches storage.
package identity

import (
	"math"
	"sort"
)

// NoMatch is the sentinel similarity returned for malformed input
// (dimension mismatch, empty vector, non-finite component). It sorts below
// every valid cosine similarity so callers can treat it as a non-match
// instead of handling an error.
const NoMatch = -1.0

// Similarity computes the cosine similarity of two L2-normalized embeddings
// as their dot product. The result lies in [-1, 1] for normalized inputs.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return NoMatch
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if math.IsNaN(dot) || math.IsInf(dot, 0) {
		return NoMatch
	}

	// Clamp to [-1, 1] to absorb floating point drift.
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	return dot
}

// CosineDistance returns 1 - Similarity. Malformed input yields the maximum
// distance of 2 so invalid points never fall inside any neighborhood.
func CosineDistance(a, b []float32) float64 {
	return 1 - Similarity(a, b)
}

// Ranked is one entry of a ranked candidate list.
type Ranked struct {
	ID    int64
	Score float64
}

// Rank scores the query embedding against every candidate, keeps those at or
// above threshold, and returns them sorted by descending score. Ties are
// broken by ascending id so results are reproducible.
func Rank(query []float32, candidates map[int64][]float32, threshold float64) []Ranked {
	matches := make([]Ranked, 0, len(candidates))
	for id, emb := range candidates {
		score := Similarity(query, emb)
		if score >= threshold {
			matches = append(matches, Ranked{ID: id, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}
