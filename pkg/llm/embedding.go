package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EmbeddingCreator is the subset of Client used for embeddings.
type EmbeddingCreator interface {
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)
}

var _ EmbeddingCreator = (*Client)(nil)

// EmbeddingClient produces semantic vectors for entity resolution.
type EmbeddingClient struct {
	client EmbeddingCreator
	model  string
	logger *zap.Logger
}

// NewEmbeddingClient wraps an embedding-capable client.
func NewEmbeddingClient(client EmbeddingCreator, model string, logger *zap.Logger) *EmbeddingClient {
	return &EmbeddingClient{
		client: client,
		model:  model,
		logger: logger.Named("embeddings"),
	}
}

// Embed returns one vector per input text, in input order.
func (e *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.client.CreateEmbeddings(ctx, texts, e.model)
	if err != nil {
		e.logger.Warn("Embedding request failed",
			zap.Int("inputs", len(texts)),
			zap.Error(err))
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}
