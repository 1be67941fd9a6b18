package kmeans

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/tools"
)

var points = [][]float64{
	{0, 0}, {0.1, 0}, {0, 0.1},
	{10, 10}, {10.1, 10}, {10, 10.1},
}

func TestFit(t *testing.T) {
	model, err := Fit(context.Background(), points, tools.KMeansOptions{K: 2, Seed: 666})
	require.NoError(t, err)
	require.Len(t, model.Centroids, 2)

	near := model.Nearest(points)
	assert.Equal(t, near[0], near[1])
	assert.Equal(t, near[0], near[2])
	assert.Equal(t, near[3], near[4])
	assert.Equal(t, near[3], near[5])
	assert.NotEqual(t, near[0], near[3])
	assert.LessOrEqual(t, model.Iterations, DefaultMaxIterations)
}

func TestFitIsDeterministic(t *testing.T) {
	a, err := Fit(context.Background(), points, tools.KMeansOptions{K: 2, Seed: 1})
	require.NoError(t, err)
	b, err := Fit(context.Background(), points, tools.KMeansOptions{K: 2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFitErrors(t *testing.T) {
	_, err := Fit(context.Background(), points, tools.KMeansOptions{K: 0})
	assert.Error(t, err)
	_, err = Fit(context.Background(), points[:1], tools.KMeansOptions{K: 2})
	assert.Error(t, err)
	_, err = Fit(context.Background(), [][]float64{{1}, {1, 2}}, tools.KMeansOptions{K: 1})
	assert.Error(t, err)
}
