package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider calls an OpenAI-compatible embeddings API.
type OpenAIProvider struct {
	model  openai.EmbeddingModel
	client *openai.Client
}

const defaultEmbeddingTimeout = 30 * time.Second

// NewOpenAIProvider creates a new OpenAI embedder. baseURL may point at any
// server speaking the OpenAI embeddings protocol; empty uses api.openai.com.
func NewOpenAIProvider(apiKey, baseURL string, model openai.EmbeddingModel) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(opts...)
	return &OpenAIProvider{
		model:  model,
		client: &cli,
	}, nil
}

// Model returns the configured model identifier.
func (e *OpenAIProvider) Model() string {
	return string(e.model)
}

// Encode sends texts as one batch and restores input order from the
// returned indices.
func (e *OpenAIProvider) Encode(ctx context.Context, texts []string, normalize bool) ([]Vector, error) {
	if len(texts) == 0 {
		return []Vector{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultEmbeddingTimeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	raw := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(raw) || raw[idx] != nil {
			return nil, fmt.Errorf("%w: unexpected embedding index %d", ErrEmbeddingFailed, d.Index)
		}
		// Convert []float64 to []float32
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		raw[idx] = vec
	}
	return finalize(raw, len(texts), normalize)
}

// Close is a no-op since the client holds no long-lived resources.
func (e *OpenAIProvider) Close() error {
	return nil
}
