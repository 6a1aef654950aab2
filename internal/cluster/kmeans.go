// Package cluster groups enriched posts into semantic clusters from
// their embeddings and persists each generation atomically.
package cluster

import "math"

// Result holds one clustering outcome: per-vector cluster assignments
// and the mean vector of each cluster. Assignment index i corresponds to
// input vector i; the assignment value indexes Centroids.
type Result struct {
	Assignments []int
	Centroids   [][]float32
}

// ChooseK picks a cluster count for n vectors using the square-root
// heuristic, clamped to [1, n].
func ChooseK(n int) int {
	if n <= 1 {
		return n
	}
	k := int(math.Round(math.Sqrt(float64(n) / 2)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// KMeans clusters the vectors into k groups with Lloyd's algorithm over
// cosine distance. Centroids are seeded deterministically by
// farthest-point traversal from the first vector, so identical input
// always yields identical clusters. Empty input or k < 1 returns an
// empty result.
func KMeans(vectors [][]float32, k, maxIter int) Result {
	n := len(vectors)
	if n == 0 || k < 1 {
		return Result{}
	}
	if k > n {
		k = n
	}

	centroids := seedCentroids(vectors, k)
	assignments := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i, vec := range vectors {
			best := nearestCentroid(vec, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		recomputeCentroids(vectors, assignments, centroids)
	}

	// Final assignment against the last centroid update.
	for i, vec := range vectors {
		assignments[i] = nearestCentroid(vec, centroids)
	}

	return Result{Assignments: assignments, Centroids: centroids}
}

// seedCentroids picks k starting centroids: the first vector, then
// repeatedly the vector farthest from all chosen so far.
func seedCentroids(vectors [][]float32, k int) [][]float32 {
	dim := len(vectors[0])
	centroids := make([][]float32, 0, k)

	first := make([]float32, dim)
	copy(first, vectors[0])
	centroids = append(centroids, first)

	for len(centroids) < k {
		farthest := -1
		var farthestDist float64 = -1

		for i, vec := range vectors {
			nearest := math.MaxFloat64
			for _, c := range centroids {
				if d := cosineDistance(vec, c); d < nearest {
					nearest = d
				}
			}
			if nearest > farthestDist {
				farthestDist = nearest
				farthest = i
			}
		}

		next := make([]float32, dim)
		copy(next, vectors[farthest])
		centroids = append(centroids, next)
	}

	return centroids
}

func nearestCentroid(vec []float32, centroids [][]float32) int {
	best := 0
	bestDist := math.MaxFloat64
	for j, c := range centroids {
		if d := cosineDistance(vec, c); d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

func recomputeCentroids(vectors [][]float32, assignments []int, centroids [][]float32) {
	dim := len(vectors[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for j := range sums {
		sums[j] = make([]float64, dim)
	}

	for i, vec := range vectors {
		j := assignments[i]
		counts[j]++
		for d, v := range vec {
			sums[j][d] += float64(v)
		}
	}

	for j, c := range centroids {
		if counts[j] == 0 {
			// An empty cluster keeps its previous centroid; the next
			// assignment pass may repopulate it.
			continue
		}
		scale := 1.0 / float64(counts[j])
		for d := range c {
			c[d] = float32(sums[j][d] * scale)
		}
	}
}

func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/math.Sqrt(normA*normB)
}
