package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"Consilium/internal/domain/service"
	xerrors "Consilium/pkg/errors"
)

// AnthropicTransport calls the Messages API once per request. Retries are disabled on the SDK
// client so the RetryingClient owns the policy.
type AnthropicTransport struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

func NewAnthropicTransport(cfg TransportConfig) *AnthropicTransport {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicTransport{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (t *AnthropicTransport) Name() string { return "anthropic" }

func (t *AnthropicTransport) Call(ctx context.Context, req service.TransportRequest) (service.RawResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = t.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(t.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(t.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := t.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return service.RawResponse{}, classifyStatus(ctx, t.Name(), apiErr.StatusCode, err)
		}
		return service.RawResponse{}, classifyStatus(ctx, t.Name(), 0, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	if b.Len() == 0 {
		return service.RawResponse{}, xerrors.Permanent(xerrors.KindInvalidOutput, 0, errors.New("anthropic: response has no text content"))
	}
	return service.RawResponse{
		Text:         b.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Model:        string(resp.Model),
		StopReason:   string(resp.StopReason),
	}, nil
}
