package utils

import (
	"encoding/binary"
	"fmt"
	"math"
)

// dotProduct calculates the dot product of two vectors of equal length.
func dotProduct(vec1, vec2 []float32) float64 {
	var product float64
	for i := range vec1 {
		product += float64(vec1[i]) * float64(vec2[i])
	}
	return product
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float64 {
	var sumOfSquares float64
	for _, val := range vec {
		sumOfSquares += float64(val) * float64(val)
	}
	return math.Sqrt(sumOfSquares)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// The result is clamped to [-1, 1]; a zero vector yields 0.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension (%d != %d)", len(vec1), len(vec2))
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	sim := dotProduct(vec1, vec2) / (mag1 * mag2)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return float32(sim), nil
}

// ReconcileDimensions returns views of a and b with equal length: the longer vector
// is truncated when truncate is true, otherwise the shorter one is zero-padded.
// Inputs are never modified.
func ReconcileDimensions(a, b []float32, truncate bool) ([]float32, []float32) {
	if len(a) == len(b) {
		return a, b
	}
	if truncate {
		n := min(len(a), len(b))
		return a[:n], b[:n]
	}
	if len(a) < len(b) {
		return Resize(a, len(b)), b
	}
	return a, Resize(b, len(a))
}

// Resize truncates or zero-pads vec to exactly dims entries.
func Resize(vec []float32, dims int) []float32 {
	if len(vec) == dims {
		return vec
	}
	out := make([]float32, dims)
	copy(out, vec)
	return out
}

// IsZero reports whether vec carries no signal (empty or all zeros).
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// EncodeVector packs vec as little-endian 32-bit floats.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
