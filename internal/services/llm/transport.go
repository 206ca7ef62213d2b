package llm

import (
	"context"
	"errors"
	"fmt"

	"Consilium/internal/domain/service"
	xerrors "Consilium/pkg/errors"
)

// TransportConfig is shared by the provider transports.
type TransportConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// NewTransport picks the provider transport named in cfg.
func NewTransport(cfg TransportConfig) (service.ServiceTransport, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return NewAnthropicTransport(cfg), nil
	case "openai":
		return NewOpenAITransport(cfg), nil
	default:
		return nil, xerrors.NewConfigurationError("llm.provider", "unsupported provider %q", cfg.Provider)
	}
}

// classifyStatus maps an SDK error carrying an HTTP status, or a transport-level error, onto
// the external error taxonomy.
func classifyStatus(ctx context.Context, provider string, status int, err error) error {
	switch {
	case status > 0:
		return xerrors.FromStatus(status, fmt.Errorf("%s: %w", provider, err))
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return xerrors.Transient(xerrors.KindTimeout, 0, fmt.Errorf("%s: %w", provider, err))
	default:
		return xerrors.Transient(xerrors.KindUpstream, 0, fmt.Errorf("%s: %w", provider, err))
	}
}
