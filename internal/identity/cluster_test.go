package identity

import (
	"math"
	"math/rand"
	"testing"
)

// randomUnitVector returns a deterministic pseudo-random L2-normalized vector.
func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var sum float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		sum += float64(v[i]) * float64(v[i])
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// nearIdenticalVectors produces n copies of a base unit vector with tiny
// perturbations, re-normalized, so all pairwise cosine distances stay
// well under 0.01.
func nearIdenticalVectors(rng *rand.Rand, n, dim int) map[int64][]float32 {
	base := randomUnitVector(rng, dim)
	out := make(map[int64][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		var sum float64
		for j := range v {
			v[j] = base[j] + float32(rng.NormFloat64())*1e-4
			sum += float64(v[j]) * float64(v[j])
		}
		norm := float32(math.Sqrt(sum))
		for j := range v {
			v[j] /= norm
		}
		out[int64(i+1)] = v
	}
	return out
}

func TestCluster(t *testing.T) {
	t.Run("EmptyInput", func(t *testing.T) {
		clusters, noise := Cluster(nil, 0.4, 2)
		if len(clusters) != 0 || len(noise) != 0 {
			t.Errorf("Cluster(nil) = %v, %v, want empty results", clusters, noise)
		}
	})

	t.Run("SinglePointIsNoise", func(t *testing.T) {
		input := map[int64][]float32{1: unitVector(8, 0)}
		clusters, noise := Cluster(input, 0.4, 2)
		if len(clusters) != 0 {
			t.Errorf("expected no clusters, got %v", clusters)
		}
		if len(noise) != 1 || noise[0] != 1 {
			t.Errorf("expected point 1 as noise, got %v", noise)
		}
	})

	t.Run("SinglePointClustersWithMinSamplesOne", func(t *testing.T) {
		input := map[int64][]float32{1: unitVector(8, 0)}
		clusters, noise := Cluster(input, 0.4, 1)
		if len(clusters) != 1 || len(noise) != 0 {
			t.Errorf("Cluster = %v, %v, want one cluster and no noise", clusters, noise)
		}
	})

	t.Run("NearIdenticalEmbeddingsFormOneCluster", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		input := nearIdenticalVectors(rng, 5, 512)

		clusters, noise := Cluster(input, 0.3, 2)
		if len(clusters) != 1 {
			t.Fatalf("expected exactly 1 cluster, got %d", len(clusters))
		}
		if len(noise) != 0 {
			t.Errorf("expected no noise, got %v", noise)
		}
		for _, members := range clusters {
			if len(members) != 5 {
				t.Errorf("cluster has %d members, want 5", len(members))
			}
		}
	})

	t.Run("MutuallyRandomVectorsAreAllNoise", func(t *testing.T) {
		rng := rand.New(rand.NewSource(2))
		input := make(map[int64][]float32, 10)
		for i := int64(1); i <= 10; i++ {
			input[i] = randomUnitVector(rng, 512)
		}

		clusters, noise := Cluster(input, 0.01, 5)
		if len(clusters) != 0 {
			t.Errorf("expected no clusters, got %d", len(clusters))
		}
		if len(noise) != 10 {
			t.Errorf("expected all 10 points as noise, got %d", len(noise))
		}
	})

	t.Run("IdenticalEmbeddingsFormOneCluster", func(t *testing.T) {
		v := unitVector(16, 3)
		input := make(map[int64][]float32, 4)
		for i := int64(1); i <= 4; i++ {
			emb := make([]float32, len(v))
			copy(emb, v)
			input[i] = emb
		}
		clusters, noise := Cluster(input, 0.4, 2)
		if len(clusters) != 1 || len(noise) != 0 {
			t.Fatalf("Cluster = %v, %v, want one cluster covering all", clusters, noise)
		}
	})

	t.Run("UnionOfClustersAndNoiseCoversInput", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		input := nearIdenticalVectors(rng, 4, 64)
		for i := int64(100); i < 106; i++ {
			input[i] = randomUnitVector(rng, 64)
		}

		clusters, noise := Cluster(input, 0.3, 2)
		seen := make(map[int64]int)
		for _, members := range clusters {
			for _, id := range members {
				seen[id]++
			}
		}
		for _, id := range noise {
			seen[id]++
		}
		if len(seen) != len(input) {
			t.Errorf("output covers %d ids, input has %d", len(seen), len(input))
		}
		for id, count := range seen {
			if count != 1 {
				t.Errorf("id %d appears %d times in output", id, count)
			}
		}
	})

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		rng := rand.New(rand.NewSource(4))
		input := nearIdenticalVectors(rng, 3, 32)
		before := make(map[int64][]float32, len(input))
		for id, emb := range input {
			c := make([]float32, len(emb))
			copy(c, emb)
			before[id] = c
		}

		Cluster(input, 0.3, 2)

		if len(input) != len(before) {
			t.Fatalf("input size changed from %d to %d", len(before), len(input))
		}
		for id, emb := range input {
			for j := range emb {
				if emb[j] != before[id][j] {
					t.Fatalf("input embedding %d mutated at component %d", id, j)
				}
			}
		}
	})

	t.Run("IdempotentMembership", func(t *testing.T) {
		rng := rand.New(rand.NewSource(5))
		input := nearIdenticalVectors(rng, 5, 64)
		for i := int64(50); i < 58; i++ {
			input[i] = randomUnitVector(rng, 64)
		}

		first, firstNoise := Cluster(input, 0.3, 2)
		second, secondNoise := Cluster(input, 0.3, 2)

		if len(first) != len(second) || len(firstNoise) != len(secondNoise) {
			t.Fatalf("runs disagree: %d/%d clusters, %d/%d noise",
				len(first), len(second), len(firstNoise), len(secondNoise))
		}
		membership := func(c Clusters) map[int64][]int64 {
			m := make(map[int64][]int64)
			for _, members := range c {
				for _, id := range members {
					m[id] = members
				}
			}
			return m
		}
		fm, sm := membership(first), membership(second)
		for id, peers := range fm {
			if len(sm[id]) != len(peers) {
				t.Errorf("id %d cluster size differs across runs", id)
			}
		}
	})
}

func TestStats(t *testing.T) {
	t.Run("EmptyClusters", func(t *testing.T) {
		got := Stats(Clusters{})
		if got.TotalClusters != 0 || got.TotalClustered != 0 ||
			got.MinClusterSize != 0 || got.MaxClusterSize != 0 || got.AvgClusterSize != 0 {
			t.Errorf("Stats on empty input = %+v, want all zeroes", got)
		}
	})

	t.Run("MixedSizes", func(t *testing.T) {
		clusters := Clusters{
			0: {1, 2, 3},
			1: {4, 5},
			2: {6, 7, 8, 9, 10},
		}
		got := Stats(clusters)
		if got.TotalClusters != 3 {
			t.Errorf("TotalClusters = %d, want 3", got.TotalClusters)
		}
		if got.TotalClustered != 10 {
			t.Errorf("TotalClustered = %d, want 10", got.TotalClustered)
		}
		if got.MinClusterSize != 2 || got.MaxClusterSize != 5 {
			t.Errorf("min/max = %d/%d, want 2/5", got.MinClusterSize, got.MaxClusterSize)
		}
		if math.Abs(got.AvgClusterSize-10.0/3.0) > 1e-9 {
			t.Errorf("AvgClusterSize = %f, want %f", got.AvgClusterSize, 10.0/3.0)
		}
	})
}
