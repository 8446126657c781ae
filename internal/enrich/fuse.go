package enrich

import (
	"encoding/json"
	"fmt"
	"math"
)

// WeightedVector is one input to embedding fusion.
type WeightedVector struct {
	Vector []float64
	Weight float64
}

// FuseEmbeddings combines several embeddings into one: a weighted average,
// L2-normalized. All inputs must share a dimension and at least one input
// must carry positive weight.
func FuseEmbeddings(inputs []WeightedVector) ([]float64, error) {
	var dim int
	var totalWeight float64
	for _, in := range inputs {
		if len(in.Vector) == 0 || in.Weight <= 0 {
			continue
		}
		if dim == 0 {
			dim = len(in.Vector)
		} else if len(in.Vector) != dim {
			return nil, fmt.Errorf("fuse embeddings: dimension mismatch (%d vs %d)", len(in.Vector), dim)
		}
		totalWeight += in.Weight
	}
	if dim == 0 || totalWeight == 0 {
		return nil, fmt.Errorf("fuse embeddings: no weighted inputs")
	}

	fused := make([]float64, dim)
	for _, in := range inputs {
		if len(in.Vector) == 0 || in.Weight <= 0 {
			continue
		}
		for i, v := range in.Vector {
			fused[i] += v * in.Weight / totalWeight
		}
	}

	var norm float64
	for _, v := range fused {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, fmt.Errorf("fuse embeddings: zero vector")
	}
	for i := range fused {
		fused[i] /= norm
	}
	return fused, nil
}

// EncodeVector serializes a vector for a record's payload field.
func EncodeVector(vector []float64) (string, error) {
	data, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("encode vector: %w", err)
	}
	return string(data), nil
}

// DecodeVector parses a serialized payload field back into a vector.
func DecodeVector(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}
	var vector []float64
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vector, nil
}
