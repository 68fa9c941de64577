package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity_Bounds(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.5, -0.25, 3},
		{-1, -2, -3},
		{100, 0.001, -7},
	}
	for _, a := range vectors {
		self, err := CosineSimilarity(a, a)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, self, 1e-6)

		for _, b := range vectors {
			sim, err := CosineSimilarity(a, b)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, sim, float32(-1))
			assert.LessOrEqual(t, sim, float32(1))

			rev, err := CosineSimilarity(b, a)
			require.NoError(t, err)
			assert.InDelta(t, sim, rev, 1e-6)
		}
	}
}

func TestCosineSimilarity_Opposite(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 2}, []float32{-1, -2})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-6)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2})
	require.NoError(t, err)
	assert.Equal(t, float32(0), sim)
}

func TestCosineSimilarity_Errors(t *testing.T) {
	_, err := CosineSimilarity(nil, []float32{1})
	assert.Error(t, err)

	_, err = CosineSimilarity([]float32{1, 2}, []float32{1})
	assert.Error(t, err)
}

func TestReconcileDimensions(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5}

	ta, tb := ReconcileDimensions(a, b, true)
	assert.Equal(t, []float32{1, 2}, ta)
	assert.Equal(t, []float32{4, 5}, tb)

	pa, pb := ReconcileDimensions(a, b, false)
	assert.Equal(t, []float32{1, 2, 3}, pa)
	assert.Equal(t, []float32{4, 5, 0}, pb)

	// inputs untouched
	assert.Len(t, b, 2)
}

func TestResize(t *testing.T) {
	assert.Equal(t, []float32{1, 0, 0}, Resize([]float32{1}, 3))
	assert.Equal(t, []float32{1}, Resize([]float32{1, 2, 3}, 1))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(nil))
	assert.True(t, IsZero([]float32{0, 0}))
	assert.False(t, IsZero([]float32{0, 0.1}))
}

func TestVectorBlob(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.14159, 0}
	blob := EncodeVector(vec)
	assert.Len(t, blob, 16)

	decoded, err := DecodeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
