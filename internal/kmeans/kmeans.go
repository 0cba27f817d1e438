package kmeans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidDimension is returned for non-positive widths or cluster counts.
	ErrInvalidDimension = errors.New("kmeans: invalid dimension")

	// ErrNoData is returned when clustering zero points.
	ErrNoData = errors.New("kmeans: no points")
)

// Train clusters n points of width d into k centroids and returns them
// flattened (k * d). With n <= k the points are reused cyclically.
func Train(ctx context.Context, points []float32, n, d, k, maxIter int, rng *rand.Rand) ([]float32, error) {
	switch {
	case d <= 0 || k <= 0:
		return nil, fmt.Errorf("%w: d=%d k=%d", ErrInvalidDimension, d, k)
	case n <= 0:
		return nil, ErrNoData
	case len(points) < n*d:
		return nil, fmt.Errorf("%w: %d values for %d points", ErrInvalidDimension, len(points), n)
	}

	centroids := initialize(points, n, d, k, rng)
	if n <= k {
		return centroids, nil
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	workers := runtime.GOMAXPROCS(0)
	for range maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !assign(points, n, d, centroids, assignments, workers) {
			break
		}
		update(points, n, d, centroids, assignments, rng)
	}
	return centroids, nil
}

// initialize picks k seeds with k-means++.
func initialize(points []float32, n, d, k int, rng *rand.Rand) []float32 {
	centroids := make([]float32, k*d)
	row := func(i int) []float32 { return points[i*d : (i+1)*d] }

	if n <= k {
		for c := 0; c < k; c++ {
			copy(centroids[c*d:], row(c%n))
		}
		return centroids
	}

	copy(centroids[:d], row(rng.IntN(n)))

	minDistSq := make([]float32, n)
	var sum float32
	for i := 0; i < n; i++ {
		minDistSq[i] = SquaredL2(row(i), centroids[:d])
		sum += minDistSq[i]
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c*d:], row(rng.IntN(n)))
			continue
		}

		target := rng.Float32() * sum
		var cumsum float32
		chosen := n - 1
		for i, dist := range minDistSq {
			cumsum += dist
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c*d:], row(chosen))

		sum = 0
		cur := centroids[c*d : (c+1)*d]
		for i := 0; i < n; i++ {
			if dist := SquaredL2(row(i), cur); dist < minDistSq[i] {
				minDistSq[i] = dist
			}
			sum += minDistSq[i]
		}
	}
	return centroids
}

// assign reports whether any point moved to another cluster.
func assign(points []float32, n, d int, centroids []float32, assignments []int, workers int) bool {
	var changed atomic.Bool
	var g errgroup.Group

	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			local := false
			for i := start; i < end; i++ {
				c := Nearest(points[i*d:(i+1)*d], centroids, d)
				if assignments[i] != c {
					assignments[i] = c
					local = true
				}
			}
			if local {
				changed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return changed.Load()
}

// update moves every centroid to the mean of its points. An empty cluster is
// reseeded with a random point.
func update(points []float32, n, d int, centroids []float32, assignments []int, rng *rand.Rand) {
	k := len(centroids) / d
	counts := make([]int, k)
	sums := make([]float32, k*d)
	for i := 0; i < n; i++ {
		c := assignments[i]
		counts[c]++
		for j, v := range points[i*d : (i+1)*d] {
			sums[c*d+j] += v
		}
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			p := rng.IntN(n)
			copy(centroids[c*d:(c+1)*d], points[p*d:(p+1)*d])
			continue
		}
		inv := 1 / float32(counts[c])
		for j := 0; j < d; j++ {
			centroids[c*d+j] = sums[c*d+j] * inv
		}
	}
}

// Nearest returns the index of the centroid closest to vec.
func Nearest(vec, centroids []float32, d int) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for c := 0; c < len(centroids)/d; c++ {
		if dist := SquaredL2(vec, centroids[c*d:(c+1)*d]); dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

// SquaredL2 returns the squared Euclidean distance of a and b.
func SquaredL2(a, b []float32) float32 {
	var s float32
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}
