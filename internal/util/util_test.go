package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorMath(t *testing.T) {
	assert.Equal(t, 5.0, Norm([]float64{3, 4}))
	assert.Equal(t, []float64{4, 6}, VectorAdd([]float64{1, 2}, []float64{3, 4}))
	assert.Equal(t, []float64{2, 4}, ScalarMultiply([]float64{1, 2}, 2))
	assert.Equal(t, []float64{0, 0}, ScalarDivide([]float64{1, 2}, 0))
	assert.Equal(t, 11.0, Dot([]float64{1, 2}, []float64{3, 4}))
	assert.Equal(t, 8.0, SquaredDistance([]float64{1, 2}, []float64{3, 4}))
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 1, 1, 1})
	for _, x := range p {
		assert.InDelta(t, 0.25, x, 1e-9)
	}
	p = Softmax([]float64{1000, 0})
	assert.InDelta(t, 1, p[0], 1e-9)
	assert.False(t, math.IsNaN(p[1]))
}

func TestRoundClampMean(t *testing.T) {
	assert.Equal(t, 0.123, Round(0.12345, 3))
	assert.Equal(t, 1.0, Clamp(3, 0, 1))
	assert.Equal(t, 0.0, Clamp(-3, 0, 1))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, Mean(nil))
}

func TestNgramsAndSimilarity(t *testing.T) {
	assert.Equal(t, []string{"ab", "bc"}, Ngrams("abc", 2))
	assert.Equal(t, []string{"a"}, Ngrams("a", 3))
	assert.Equal(t, 1.0, SetSimilarity([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3.0, SetSimilarity([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestUniqAndSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"b", "a"}, Uniq([]string{"b", "a", "b"}))
	assert.Equal(t, []string{"a", "b"}, SortedKeys(map[string]int{"b": 1, "a": 2}))
}
