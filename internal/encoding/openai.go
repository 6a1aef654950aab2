package encoding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface check
var _ Encoder = (*OpenAI)(nil)

// EmbeddingsService defines the interface for making embedding API calls.
// This abstraction enables testing without calling the real OpenAI API.
type EmbeddingsService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAI implements Encoder using OpenAI's embeddings API, requesting
// vectors truncated to the configured dimension count.
type OpenAI struct {
	embeddings EmbeddingsService
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAI creates a new OpenAI encoder. The client is constructed once
// here and shared by all callers; there is no per-call setup cost beyond
// the HTTP request itself.
func NewOpenAI(apiKey, model string, dimensions int) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		embeddings: client.Embeddings,
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}
}

// EncodeBatch generates embeddings for multiple texts in one API call.
// Results are mapped back by response index; an index the API omitted
// leaves a nil slot so callers can skip just that item.
func (o *OpenAI) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := o.embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](
			openai.EmbeddingNewParamsInputArrayOfStrings(texts),
		),
		Model:      openai.F(o.model),
		Dimensions: openai.F(int64(o.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("batch embedding generation failed: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("batch embedding generation failed: index %d out of range for %d inputs", data.Index, len(texts))
		}
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		vectors[data.Index] = normalize(vec)
	}

	return vectors, nil
}

// Dimensions returns the configured vector length.
func (o *OpenAI) Dimensions() int {
	return o.dimensions
}

// ModelName returns the embedding model name.
func (o *OpenAI) ModelName() string {
	return string(o.model)
}
