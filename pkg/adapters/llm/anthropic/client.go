// Package anthropic implements ports.LLMClient on the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

// Client calls the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	logger *zap.Logger
}

// NewClient creates an Anthropic-backed LLM client.
func NewClient(apiKey string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}, nil
}

// GenerateCompletion sends the request and returns the concatenated text blocks.
func (c *Client) GenerateCompletion(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	c.logger.Debug("completion generated",
		zap.String("model", string(resp.Model)),
		zap.Duration("duration", time.Since(start)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))

	return &domain.LLMResponse{
		Content:      content,
		Model:        string(resp.Model),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
