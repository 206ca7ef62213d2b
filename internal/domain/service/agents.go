package service

import (
	"context"
	"time"

	"Consilium/internal/domain/models"
)

// TransportRequest is one structured call to the language-model service.
type TransportRequest struct {
	AgentID   string
	System    string // persona
	Prompt    string
	MaxTokens int64
	Timeout   time.Duration
}

// RawResponse is the unvalidated text returned by the language-model service.
type RawResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Model        string
	StopReason   string
}

// ServiceTransport performs a single remote call with no retry of its own.
// Errors should be classified with pkg/errors so the retrying client can decide.
type ServiceTransport interface {
	Call(ctx context.Context, req TransportRequest) (RawResponse, error)
	Name() string
}

// Prompt is the persona and user message built for one (agent, ticker) pair.
type Prompt struct {
	System string
	User   string
}

// PromptBuilder renders the agent-specific prompt from the selected snapshot fields.
// briefings are the specialist findings for the same ticker; only investors receive them.
type PromptBuilder interface {
	Build(agent models.AgentDefinition, ticker string, snapshot *models.MarketSnapshot, briefings []models.AgentResponse) (Prompt, error)
}

// AgentInvoker is the retrying boundary around ServiceTransport. It never returns an error:
// every fault is folded into an AgentFailure.
type AgentInvoker interface {
	Invoke(ctx context.Context, agent models.AgentDefinition, ticker string, prompt Prompt) models.AgentOutcome
}
