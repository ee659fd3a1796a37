// Package claude implements the ai.Provider interface on top of the
// Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/clarion/internal/ai"
)

// Client wraps the Anthropic SDK client for single-shot completions.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude-backed provider with the given API key and
// model name. Extra options are passed through to the SDK client.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Complete sends one message and concatenates the text blocks of the
// reply. API failures are mapped to ai.StatusError so the shared retry
// predicate can classify them.
func (c *Client) Complete(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &ai.StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &ai.Response{
		Text: sb.String(),
		Usage: ai.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
