package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	"Consilium/internal/domain/service"
	xerrors "Consilium/pkg/errors"
)

type step struct {
	text  string
	err   error
	block bool
}

type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Call(ctx context.Context, req service.TransportRequest) (service.RawResponse, error) {
	s.mu.Lock()
	st := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		st = s.steps[s.calls]
	}
	s.calls++
	s.mu.Unlock()

	if st.block {
		<-ctx.Done()
		return service.RawResponse{}, ctx.Err()
	}
	if st.err != nil {
		return service.RawResponse{}, st.err
	}
	return service.RawResponse{Text: st.text, InputTokens: 1200, OutputTokens: 400}, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var buffett = models.AgentDefinition{ID: "buffett", DisplayName: "Warren Buffett", Kind: models.AgentInvestor, Weight: 2}

func fastConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, CallTimeout: time.Second}
}

func transient() error {
	return xerrors.Transient(xerrors.KindUpstream, 503, errors.New("overloaded"))
}

func TestInvokeSucceedsAfterTransientFaults(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: transient()}, {err: transient()}, {text: validReply}}}
	c := NewRetryingClient(tr, fastConfig())

	out := c.Invoke(context.Background(), buffett, "AAPL", service.Prompt{System: "s", User: "u"})
	require.True(t, out.OK())
	assert.Equal(t, 3, tr.Calls())
	r := out.Response
	assert.Equal(t, "buffett", r.AgentID)
	assert.Equal(t, "AAPL", r.Ticker)
	assert.Equal(t, models.SignalBuy, r.Signal)
	assert.Equal(t, 2.0, r.Weight)
	assert.Equal(t, int64(1200), r.TokensIn)
	assert.Equal(t, []string{"Services growth", "Brand"}, r.Themes)
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: transient()}}}
	c := NewRetryingClient(tr, fastConfig())

	out := c.Invoke(context.Background(), buffett, "AAPL", service.Prompt{})
	require.False(t, out.OK())
	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, models.FailureUpstream, out.Failure.Kind)
	assert.Equal(t, 3, out.Failure.Attempts)
}

func TestInvokeRateLimitedKind(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: xerrors.FromStatus(429, errors.New("slow down"))}}}
	out := NewRetryingClient(tr, fastConfig()).Invoke(context.Background(), buffett, "AAPL", service.Prompt{})
	require.False(t, out.OK())
	assert.Equal(t, models.FailureRateLimited, out.Failure.Kind)
	assert.Equal(t, 3, tr.Calls())
}

func TestInvokePermanentFailsImmediately(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: xerrors.FromStatus(401, errors.New("bad key"))}}}
	out := NewRetryingClient(tr, fastConfig()).Invoke(context.Background(), buffett, "AAPL", service.Prompt{})
	require.False(t, out.OK())
	assert.Equal(t, 1, tr.Calls())
	assert.Equal(t, models.FailureUpstream, out.Failure.Kind)
	assert.Equal(t, 1, out.Failure.Attempts)
}

func TestInvokeInvalidOutputIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{text: `{"signal":"MAYBE"}`}, {text: validReply}}}
	out := NewRetryingClient(tr, fastConfig()).Invoke(context.Background(), buffett, "AAPL", service.Prompt{})
	require.False(t, out.OK())
	assert.Equal(t, 1, tr.Calls())
	assert.Equal(t, models.FailureInvalidOutput, out.Failure.Kind)
}

func TestInvokePerAttemptTimeout(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{block: true}, {text: validReply}}}
	cfg := fastConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	out := NewRetryingClient(tr, cfg).Invoke(context.Background(), buffett, "AAPL", service.Prompt{})
	require.True(t, out.OK(), "a timed out attempt is retried")
	assert.Equal(t, 2, tr.Calls())

	tr = &scriptedTransport{steps: []step{{block: true}}}
	out = NewRetryingClient(tr, cfg).Invoke(context.Background(), buffett, "AAPL", service.Prompt{})
	require.False(t, out.OK())
	assert.Equal(t, models.FailureTimeout, out.Failure.Kind)
	assert.Equal(t, 3, out.Failure.Attempts)
}

func TestInvokeStopsOnCallerDeadline(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{block: true}}}
	cfg := fastConfig()
	cfg.CallTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := NewRetryingClient(tr, cfg).Invoke(ctx, buffett, "AAPL", service.Prompt{})
	require.False(t, out.OK())
	assert.Equal(t, models.FailureTimeout, out.Failure.Kind)
	assert.Equal(t, 1, tr.Calls())
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.GreaterOrEqual(t, backoffWithJitter(100*time.Millisecond, time.Second, 1), 50*time.Millisecond)
}
