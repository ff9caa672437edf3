package models

import (
	"context"
	"fmt"

	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ChatClient sends single-turn prompts to an OpenAI compatible
// /chat/completions endpoint.
type ChatClient struct {
	*client
}

var _ ports.ChatModel = (*ChatClient)(nil)

// NewChatClient creates a chat completion client.
func NewChatClient(cfg config.ModelConfig, opts ...ClientOption) *ChatClient {
	return &ChatClient{client: newClient(cfg, defaultOpenAIBaseURL, opts)}
}

// Complete returns the model's reply to prompt. Temperature is pinned to
// zero so repeated judgements of the same input agree.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: c.truncate(prompt)}},
	}
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion %s returned no choices", resp.ID)
	}
	return resp.Choices[0].Message.Content, nil
}
