package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKMeansModelNearest(t *testing.T) {
	k := &KMeansModel{Centroids: [][]float64{{0, 0}, {10, 10}}}
	assert.Equal(t, []int{0, 1, 1}, k.Nearest([][]float64{{1, 1}, {9, 9}, {6, 6}}))
	assert.Empty(t, k.Nearest(nil))
}

func TestNewRandIsSeeded(t *testing.T) {
	a, b := NewRand(42), NewRand(42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
}
