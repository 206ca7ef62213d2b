package usecase

import (
	"context"
	"fmt"
	"time"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	"Consilium/internal/domain/service"
	"Consilium/pkg/logger"
)

// AgentRunner executes one (agent, ticker) task.
type AgentRunner struct {
	prompts service.PromptBuilder
	invoker service.AgentInvoker
	metrics drepo.Metrics
	logger  *logger.Logger
}

func NewAgentRunner(prompts service.PromptBuilder, invoker service.AgentInvoker, metrics drepo.Metrics, l *logger.Logger) *AgentRunner {
	if l == nil {
		l = logger.Nop()
	}
	return &AgentRunner{prompts: prompts, invoker: invoker, metrics: metrics, logger: l}
}

// Run narrows the snapshot to the agent's declared categories, renders the prompt and invokes
// the model. briefings carry specialist findings into investor prompts. It always returns an
// outcome; a panic below it becomes an UPSTREAM_ERROR failure.
func (r *AgentRunner) Run(ctx context.Context, agent models.AgentDefinition, ticker string, snapshot *models.MarketSnapshot, briefings []models.AgentResponse) (out models.AgentOutcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("agent runner panic",
				logger.String("agent", agent.ID),
				logger.String("ticker", ticker),
				logger.Any("panic", p))
			out = models.Failed(models.AgentFailure{
				AgentID: agent.ID,
				Ticker:  ticker,
				Kind:    models.FailureUpstream,
				Detail:  fmt.Sprintf("panic: %v", p),
				Latency: time.Since(start),
			})
		}
		r.record(agent.ID, out, time.Since(start))
	}()

	if snapshot == nil {
		snapshot = &models.MarketSnapshot{Ticker: ticker}
	}
	selected := snapshot.Select(agent.RequiredDataCategories)

	prompt, err := r.prompts.Build(agent, ticker, selected, briefings)
	if err != nil {
		return models.Failed(models.AgentFailure{
			AgentID: agent.ID,
			Ticker:  ticker,
			Kind:    models.FailureUpstream,
			Detail:  "build prompt: " + err.Error(),
			Latency: time.Since(start),
		})
	}

	out = r.invoker.Invoke(ctx, agent, ticker, prompt)
	if out.Response == nil && out.Failure == nil {
		out = models.Failed(models.AgentFailure{AgentID: agent.ID, Ticker: ticker, Kind: models.FailureUpstream, Detail: "empty outcome"})
	}
	return out
}

func (r *AgentRunner) record(agentID string, out models.AgentOutcome, d time.Duration) {
	result := "ok"
	if out.Failure != nil {
		result = string(out.Failure.Kind)
	}
	r.metrics.RecordAgentCall(agentID, result, d.Seconds())
}
