// Package kmeans clusters vectors with Lloyd's algorithm and k-means++ seeding.
package kmeans

import (
	"context"
	"math"
	"math/rand"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/tools"
)

// DefaultMaxIterations bounds Lloyd iterations when options leave it at zero.
const DefaultMaxIterations = 250

// Fit clusters data into opts.K groups.
func Fit(ctx context.Context, data [][]float64, opts tools.KMeansOptions) (*tools.KMeansModel, error) {
	k := opts.K
	if k <= 0 {
		return nil, errors.Newf("k must be positive, got %d", k)
	}
	if len(data) < k {
		return nil, errors.Newf("cannot make %d clusters out of %d points", k, len(data))
	}
	dims := len(data[0])
	for i, p := range data {
		if len(p) != dims {
			return nil, errors.Newf("point %d has %d dimensions, expected %d", i, len(p), dims)
		}
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	rng := tools.NewRand(opts.Seed)
	centroids := seedCentroids(data, k, rng)
	model := &tools.KMeansModel{Centroids: centroids}
	assignments := make([]int, len(data))
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "kmeans interrupted")
		}
		model.Iterations = iter + 1

		changed := false
		for i, c := range model.Nearest(data) {
			if assignments[i] != c {
				assignments[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = util.Zeroes(dims)
		}
		for i, c := range assignments {
			sums[c] = util.VectorAdd(sums[c], data[i])
			counts[c]++
		}
		for c := range centroids {
			// empty clusters keep their previous centroid
			if counts[c] > 0 {
				centroids[c] = util.ScalarDivide(sums[c], float64(counts[c]))
			}
		}
	}
	return model, nil
}

// seedCentroids picks initial centroids with the k-means++ heuristic.
func seedCentroids(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := data[rng.Intn(len(data))]
	centroids = append(centroids, append([]float64(nil), first...))

	dist := make([]float64, len(data))
	for len(centroids) < k {
		total := 0.0
		for i, p := range data {
			best := math.MaxFloat64
			for _, c := range centroids {
				if d := util.SquaredDistance(p, c); d < best {
					best = d
				}
			}
			dist[i] = best
			total += best
		}

		next := len(data) - 1
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
			}
		} else {
			next = rng.Intn(len(data))
		}
		centroids = append(centroids, append([]float64(nil), data[next]...))
	}
	return centroids
}
