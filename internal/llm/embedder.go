package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder produces embeddings through an OpenAI-compatible
// embeddings endpoint. A custom base URL points it at a local inference
// server hosting the same API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// OpenAIEmbedderConfig contains configuration for an OpenAIEmbedder.
type OpenAIEmbedderConfig struct {
	// APIKey authenticates against the endpoint.
	APIKey string
	// BaseURL overrides the API endpoint; empty uses the OpenAI default.
	BaseURL string
	// Model is the embedding model; empty uses text-embedding-3-small.
	Model string
}

// NewOpenAIEmbedder creates an embedder.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if model == "" {
		model = openai.SmallEmbedding3
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Embed implements the cache's embedding contract.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}

// LocalEmbedder is a deterministic hashed bag-of-words embedder used when
// no embedding endpoint is configured. It preserves enough term overlap for
// the lexical side of retrieval to stay useful; semantic recall is
// correspondingly weaker.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder creates a local embedder; dim <= 0 uses 256.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &LocalEmbedder{dim: dim}
}

// Embed implements the cache's embedding contract. Never fails.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		tok := strings.Trim(field, ".,!?;:'\"()[]{}")
		if len(tok) < 2 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dim)]++
	}

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
