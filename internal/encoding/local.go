package encoding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// Compile-time interface check
var _ Encoder = (*Local)(nil)

// localModelName identifies the deterministic in-process provider.
const localModelName = "local-feature-hash-v1"

// Local is a deterministic, dependency-free encoder for development and
// tests. Each token is hashed into a pseudo-random basis vector and the
// token vectors are summed and normalized, so identical text always
// yields the identical unit vector and related texts share tokens.
//
// It is not a semantic model; it exists so the pipeline runs end to end
// without network access or an API key.
type Local struct {
	dimensions int

	loadOnce sync.Once
	loaded   bool
}

// NewLocal creates a local encoder producing vectors of the given length.
func NewLocal(dimensions int) *Local {
	return &Local{dimensions: dimensions}
}

// EncodeBatch encodes each text independently. Whitespace-only inputs get
// a nil slot, mirroring a provider that cannot embed empty content.
func (l *Local) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Cold-start cost is paid exactly once per process, even under
	// concurrent first callers.
	l.loadOnce.Do(func() { l.loaded = true })

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		vectors[i] = l.encode(text)
	}
	return vectors, nil
}

func (l *Local) encode(text string) []float32 {
	vec := make([]float32, l.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		seed := h.Sum32()
		for i := 0; i < l.dimensions; i++ {
			// LCG walk from the token hash
			seed = seed*1664525 + 1013904223
			vec[i] += float32(int32(seed%2001)-1000) / 1000.0
		}
	}
	return normalize(vec)
}

// Dimensions returns the configured vector length.
func (l *Local) Dimensions() int {
	return l.dimensions
}

// ModelName returns the local provider identifier.
func (l *Local) ModelName() string {
	return localModelName
}
