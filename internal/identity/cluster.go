package identity

import "sort"

// Clusters maps a cluster index to the face ids it contains. Indices are
// arbitrary; only membership is meaningful.
type Clusters map[int][]int64

// Cluster partitions embeddings into groups of faces likely belonging to the
// same person using DBSCAN over cosine distance (1 - cosine similarity).
//
//   - eps is the maximum neighborhood distance
//   - minSamples is the minimum neighborhood size (including the point
//     itself) for a point to be a core point
//
// Points that end up in no cluster are returned as noise rather than
// silently dropped. The input map is never mutated. Iteration is over
// sorted ids so identical input always yields identical membership.
func Cluster(embeddings map[int64][]float32, eps float64, minSamples int) (Clusters, []int64) {
	clusters := make(Clusters)
	noise := []int64{}
	if len(embeddings) == 0 {
		return clusters, noise
	}

	ids := make([]int64, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		vectors[i] = embeddings[id]
	}

	const (
		undefined  = 0
		noiseLabel = -1
	)

	labels := make([]int, len(ids))
	clusterID := 0

	for i := range vectors {
		if labels[i] != undefined {
			continue
		}

		neighbors := rangeQuery(vectors, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = noiseLabel
			continue
		}

		clusterID++
		labels[i] = clusterID

		// Seed set: neighbors minus the point itself.
		seed := make([]int, 0, len(neighbors))
		for _, j := range neighbors {
			if j != i {
				seed = append(seed, j)
			}
		}

		for len(seed) > 0 {
			q := seed[0]
			seed = seed[1:]

			if labels[q] == noiseLabel {
				labels[q] = clusterID // border point
			}
			if labels[q] != undefined {
				continue
			}
			labels[q] = clusterID

			qNeighbors := rangeQuery(vectors, q, eps)
			if len(qNeighbors) >= minSamples {
				seed = append(seed, qNeighbors...)
			}
		}
	}

	for i, label := range labels {
		if label == noiseLabel {
			noise = append(noise, ids[i])
			continue
		}
		clusters[label-1] = append(clusters[label-1], ids[i])
	}
	return clusters, noise
}

// rangeQuery returns indices of all vectors within eps cosine distance of
// vectors[idx], the point itself included.
func rangeQuery(vectors [][]float32, idx int, eps float64) []int {
	var result []int
	q := vectors[idx]
	for i, v := range vectors {
		if CosineDistance(q, v) <= eps {
			result = append(result, i)
		}
	}
	return result
}

// ClusterStats summarizes a clustering result.
type ClusterStats struct {
	TotalClusters  int     `json:"total_clusters"`
	TotalClustered int     `json:"total_faces_clustered"`
	MinClusterSize int     `json:"min_cluster_size"`
	MaxClusterSize int     `json:"max_cluster_size"`
	AvgClusterSize float64 `json:"avg_cluster_size"`
}

// Stats computes size statistics over a clustering result. Empty input
// yields zeroes, never a division by zero.
func Stats(clusters Clusters) ClusterStats {
	stats := ClusterStats{TotalClusters: len(clusters)}
	if len(clusters) == 0 {
		return stats
	}

	stats.MinClusterSize = int(^uint(0) >> 1)
	for _, members := range clusters {
		size := len(members)
		stats.TotalClustered += size
		if size < stats.MinClusterSize {
			stats.MinClusterSize = size
		}
		if size > stats.MaxClusterSize {
			stats.MaxClusterSize = size
		}
	}
	stats.AvgClusterSize = float64(stats.TotalClustered) / float64(len(clusters))
	return stats
}
