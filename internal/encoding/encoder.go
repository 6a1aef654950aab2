// Package encoding turns raw text into fixed-dimension normalized vectors.
package encoding

import (
	"context"
	"math"
)

// Encoder defines the contract for text-to-vector providers.
//
// EncodeBatch returns exactly one slot per input. A slot may be nil when
// that item alone failed to encode; callers skip nil slots rather than
// failing the batch. A non-nil error means the whole call failed for
// infrastructure reasons and is retryable. The encoder makes no internal
// timeout guarantee; callers bound the call with a context deadline.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// normalize scales v to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
