// Package claude narrates dispatch events with the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/prealert/internal/faults"
	"github.com/linnemanlabs/prealert/internal/narration"
)

const (
	serviceName = "claude"

	// narrations are a few sentences
	defaultMaxTokens = 1024
)

// Narrator implements workflow.Narrator using Claude.
type Narrator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude narrator for model. The SDK's own retries are
// disabled; the workflow engine owns retry policy.
func New(apiKey, model string, opts ...option.RequestOption) *Narrator {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &Narrator{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// Model returns the configured model name.
func (n *Narrator) Model() string { return n.model }

// Narrate sends req to Claude and returns the narration text.
func (n *Narrator) Narrate(ctx context.Context, req *narration.Request) (string, error) {
	msg, err := n.client.Messages.New(ctx, toSDKParams(n.model, n.maxTokens, req))
	if err != nil {
		return "", classify(err)
	}

	text := fromSDKResponse(msg)
	if text == "" {
		return "", faults.Transient(serviceName, 0, errors.New("empty narration in response"))
	}
	return text, nil
}

func toSDKParams(model string, maxTokens int64, req *narration.Request) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.Instructions},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	}
}

// fromSDKResponse joins the text blocks of msg.
func fromSDKResponse(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return faults.FromStatus(serviceName, apiErr.StatusCode, fmt.Errorf("messages: %w", err))
	}
	return faults.Transient(serviceName, 0, err)
}
