package identity

import (
	"math"
	"testing"
)

func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestSimilarity(t *testing.T) {
	t.Run("SelfSimilarityIsOne", func(t *testing.T) {
		v := unitVector(512, 7)
		if got := Similarity(v, v); math.Abs(got-1.0) > 1e-9 {
			t.Errorf("Similarity(v, v) = %f, want 1.0", got)
		}
	})

	t.Run("OrthogonalVectorsAreZero", func(t *testing.T) {
		u := unitVector(512, 0)
		v := unitVector(512, 1)
		if got := Similarity(u, v); math.Abs(got) > 1e-9 {
			t.Errorf("Similarity(u, v) = %f, want 0.0", got)
		}
	})

	t.Run("OppositeVectorsAreMinusOne", func(t *testing.T) {
		u := unitVector(8, 3)
		v := make([]float32, 8)
		v[3] = -1
		if got := Similarity(u, v); math.Abs(got+1.0) > 1e-9 {
			t.Errorf("Similarity(u, -u) = %f, want -1.0", got)
		}
	})

	t.Run("MalformedInput", func(t *testing.T) {
		tests := []struct {
			name string
			a, b []float32
		}{
			{"DimensionMismatch", unitVector(512, 0), unitVector(256, 0)},
			{"EmptyFirst", nil, unitVector(512, 0)},
			{"EmptyBoth", nil, nil},
			{"NaNComponent", []float32{float32(math.NaN()), 0}, []float32{1, 0}},
			{"InfComponent", []float32{float32(math.Inf(1)), 0}, []float32{1, 0}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := Similarity(tt.a, tt.b); got != NoMatch {
					t.Errorf("Similarity = %f, want NoMatch (%f)", got, NoMatch)
				}
			})
		}
	})

	t.Run("ClampsFloatingPointDrift", func(t *testing.T) {
		// Slightly over-unit vector; dot product would exceed 1.
		v := []float32{1.0000001, 0}
		if got := Similarity(v, v); got > 1.0 {
			t.Errorf("Similarity = %f, want clamped to 1.0", got)
		}
	})
}

func TestRank(t *testing.T) {
	query := unitVector(4, 0)
	candidates := map[int64][]float32{
		1: {1, 0, 0, 0},             // similarity 1.0
		2: {0.8, 0.6, 0, 0},         // similarity 0.8
		3: {0, 1, 0, 0},             // similarity 0.0
		4: {0.6, 0.8, 0, 0},         // similarity 0.6
		5: {-1, 0, 0, 0},            // similarity -1.0
		6: unitVector(3, 0),         // wrong dimension, NoMatch
	}

	t.Run("FiltersAndSortsDescending", func(t *testing.T) {
		got := Rank(query, candidates, 0.5)
		wantIDs := []int64{1, 2, 4}
		if len(got) != len(wantIDs) {
			t.Fatalf("Rank returned %d entries, want %d", len(got), len(wantIDs))
		}
		for i, want := range wantIDs {
			if got[i].ID != want {
				t.Errorf("entry %d: id = %d, want %d", i, got[i].ID, want)
			}
		}
		for i := 1; i < len(got); i++ {
			if got[i].Score > got[i-1].Score {
				t.Errorf("results not sorted: score[%d]=%f > score[%d]=%f",
					i, got[i].Score, i-1, got[i-1].Score)
			}
		}
	})

	t.Run("NeverReturnsBelowThreshold", func(t *testing.T) {
		for _, r := range Rank(query, candidates, 0.5) {
			if r.Score < 0.5 {
				t.Errorf("id %d scored %f, below threshold", r.ID, r.Score)
			}
		}
	})

	t.Run("TiesBrokenByAscendingID", func(t *testing.T) {
		tied := map[int64][]float32{
			9: {1, 0, 0, 0},
			3: {1, 0, 0, 0},
			5: {1, 0, 0, 0},
		}
		got := Rank(query, tied, 0.9)
		wantIDs := []int64{3, 5, 9}
		for i, want := range wantIDs {
			if got[i].ID != want {
				t.Errorf("entry %d: id = %d, want %d", i, got[i].ID, want)
			}
		}
	})

	t.Run("EmptyCandidates", func(t *testing.T) {
		if got := Rank(query, nil, 0.0); len(got) != 0 {
			t.Errorf("Rank over empty candidates returned %d entries", len(got))
		}
	})
}
