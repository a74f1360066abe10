package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenAIURL = "http://localhost:11434/v1"

// OpenAIClient talks to any server exposing the OpenAI chat completions API
// (llama.cpp server, LM Studio, vLLM, Ollama's /v1).
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient returns a client for baseURL (DefaultOpenAIURL when empty).
// Local servers ignore the API key, so an empty one is allowed.
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
