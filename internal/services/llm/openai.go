package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"Consilium/internal/domain/service"
	xerrors "Consilium/pkg/errors"
)

// OpenAITransport calls Chat Completions once per request.
type OpenAITransport struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

func NewOpenAITransport(cfg TransportConfig) *OpenAITransport {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAITransport{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (t *OpenAITransport) Name() string { return "openai" }

func (t *OpenAITransport) Call(ctx context.Context, req service.TransportRequest) (service.RawResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = t.maxTokens
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(t.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
		Temperature:         openai.Float(t.temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return service.RawResponse{}, classifyStatus(ctx, t.Name(), apiErr.StatusCode, err)
		}
		return service.RawResponse{}, classifyStatus(ctx, t.Name(), 0, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return service.RawResponse{}, xerrors.Permanent(xerrors.KindInvalidOutput, 0, errors.New("openai: no choices returned"))
	}
	ch := resp.Choices[0]
	return service.RawResponse{
		Text:         ch.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		StopReason:   ch.FinishReason,
	}, nil
}
