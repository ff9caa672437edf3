package models

import (
	"context"
	"fmt"

	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

const defaultRerankBaseURL = "https://api.cohere.com"

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// RerankClient scores how relevant a text is to a query using a Cohere
// compatible /v2/rerank endpoint.
type RerankClient struct {
	*client
}

var _ ports.RelevanceModel = (*RerankClient)(nil)

// NewRerankClient creates a reranker client.
func NewRerankClient(cfg config.ModelConfig, opts ...ClientOption) *RerankClient {
	return &RerankClient{client: newClient(cfg, defaultRerankBaseURL, opts)}
}

// Relevance returns the relevance score of text for query.
func (c *RerankClient) Relevance(ctx context.Context, text, query string) (float64, error) {
	req := rerankRequest{
		Model:     c.model,
		Query:     c.truncate(query),
		Documents: []string{c.truncate(text)},
		TopN:      1,
	}
	var resp rerankResponse
	if err := c.post(ctx, "/v2/rerank", req, &resp); err != nil {
		return 0, err
	}
	for _, r := range resp.Results {
		if r.Index == 0 {
			return r.RelevanceScore, nil
		}
	}
	return 0, fmt.Errorf("rerank response %s has no result for the document", resp.ID)
}
