package models

import (
	"context"
	"fmt"

	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbeddingClient embeds texts using an OpenAI compatible /embeddings
// endpoint.
type EmbeddingClient struct {
	*client
}

var _ ports.EmbeddingModel = (*EmbeddingClient)(nil)

// NewEmbeddingClient creates an embeddings client.
func NewEmbeddingClient(cfg config.ModelConfig, opts ...ClientOption) *EmbeddingClient {
	return &EmbeddingClient{client: newClient(cfg, defaultOpenAIBaseURL, opts)}
}

// Embed returns one vector per input, in input order.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = c.truncate(t)
	}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.model, Input: input}, &resp); err != nil {
		return nil, err
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return out, nil
}
