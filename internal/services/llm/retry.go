package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	"Consilium/internal/domain/service"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/logger"
	"Consilium/pkg/metrics"
)

// RetryConfig bounds the retry loop around a single agent call.
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	CallTimeout       time.Duration
	RequestsPerMinute int
	MaxTokens         int64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		CallTimeout: 60 * time.Second,
		MaxTokens:   2048,
	}
}

type ClientOption func(*RetryingClient)

func WithLogger(l *logger.Logger) ClientOption { return func(c *RetryingClient) { c.logger = l } }

func WithMetrics(m drepo.Metrics) ClientOption { return func(c *RetryingClient) { c.metrics = m } }

func WithClock(now func() time.Time) ClientOption { return func(c *RetryingClient) { c.now = now } }

// RetryingClient implements AgentInvoker over a ServiceTransport. Retryable faults are retried
// with exponential backoff and jitter; everything else ends the call immediately.
type RetryingClient struct {
	transport service.ServiceTransport
	cfg       RetryConfig
	limiter   *rate.Limiter
	logger    *logger.Logger
	metrics   drepo.Metrics
	now       func() time.Time
}

var _ service.AgentInvoker = (*RetryingClient)(nil)

func NewRetryingClient(transport service.ServiceTransport, cfg RetryConfig, opts ...ClientOption) *RetryingClient {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	c := &RetryingClient{
		transport: transport,
		cfg:       cfg,
		logger:    logger.Nop(),
		metrics:   metrics.Nop{},
		now:       time.Now,
	}
	if cfg.RequestsPerMinute > 0 {
		perSec := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
		c.limiter = rate.NewLimiter(perSec, 1)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Invoke never returns an error. The outcome is either a validated response or a failure
// carrying the kind of the last fault and the number of attempts made.
func (c *RetryingClient) Invoke(ctx context.Context, agent models.AgentDefinition, ticker string, prompt service.Prompt) models.AgentOutcome {
	start := c.now()
	req := service.TransportRequest{
		AgentID:   agent.ID,
		System:    prompt.System,
		Prompt:    prompt.User,
		MaxTokens: c.cfg.MaxTokens,
		Timeout:   c.cfg.CallTimeout,
	}
	log := c.logger.With(logger.String("agent", agent.ID), logger.String("ticker", ticker))

	var lastErr error
	attempt := 0
	for attempt < c.cfg.MaxAttempts {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = xerrors.Transient(xerrors.KindTimeout, 0, err)
				break
			}
		}

		raw, err := c.call(ctx, req)
		if err == nil {
			out, perr := ParseAgentOutput(raw.Text)
			if perr == nil {
				return models.Succeeded(models.AgentResponse{
					AgentID:     agent.ID,
					AgentName:   agent.DisplayName,
					Ticker:      ticker,
					Signal:      out.Signal,
					Confidence:  out.Confidence,
					Reasoning:   out.Reasoning,
					Themes:      out.KeyFactors,
					Risks:       out.Risks,
					TargetPrice: out.TargetPrice,
					TimeHorizon: out.TimeHorizon,
					Weight:      agent.Weight,
					TokensIn:    raw.InputTokens,
					TokensOut:   raw.OutputTokens,
					Latency:     c.now().Sub(start),
					CompletedAt: c.now(),
				})
			}
			err = perr
		}
		lastErr = err

		if ctx.Err() != nil || !xerrors.IsRetryable(err) || attempt >= c.cfg.MaxAttempts {
			break
		}

		kind := failureKind(err)
		c.metrics.RecordRetry(agent.ID, string(kind))
		delay := backoffWithJitter(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		log.Debug("retrying agent call",
			logger.Int("attempt", attempt),
			logger.String("kind", string(kind)),
			logger.Duration("delay_ms", delay),
			logger.Error(err))

		if !sleep(ctx, delay) {
			lastErr = xerrors.Transient(xerrors.KindTimeout, 0, ctx.Err())
			break
		}
	}

	if ctx.Err() != nil {
		lastErr = xerrors.Transient(xerrors.KindTimeout, 0, errors.Join(ctx.Err(), lastErr))
	}
	f := models.AgentFailure{
		AgentID:  agent.ID,
		Ticker:   ticker,
		Kind:     failureKind(lastErr),
		Detail:   lastErr.Error(),
		Attempts: attempt,
		Latency:  c.now().Sub(start),
	}
	log.Warn("agent call failed",
		logger.String("kind", string(f.Kind)),
		logger.Int("attempts", attempt),
		logger.Error(lastErr))
	return models.Failed(f)
}

// call runs one attempt under the per-attempt timeout. Exceeding it is a retryable timeout.
func (c *RetryingClient) call(ctx context.Context, req service.TransportRequest) (service.RawResponse, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	raw, err := c.transport.Call(actx, req)
	if err == nil {
		return raw, nil
	}
	if actx.Err() != nil {
		var ext *xerrors.ExternalError
		if !errors.As(err, &ext) || ext.Kind != xerrors.KindTimeout {
			return raw, xerrors.Transient(xerrors.KindTimeout, 0, err)
		}
	}
	return raw, err
}

func failureKind(err error) models.FailureKind {
	switch {
	case errors.Is(err, xerrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.FailureTimeout
	case errors.Is(err, xerrors.ErrRateLimited):
		return models.FailureRateLimited
	case errors.Is(err, xerrors.ErrInvalidOutput):
		return models.FailureInvalidOutput
	default:
		return models.FailureUpstream
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}
