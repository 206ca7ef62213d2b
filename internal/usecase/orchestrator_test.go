package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	"Consilium/internal/domain/service"
	"Consilium/internal/services/consensus"
	"Consilium/internal/services/cost"
	"Consilium/internal/services/llm"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/metrics"
)

type fakeCatalog struct{ agents []models.AgentDefinition }

func (c fakeCatalog) List() []models.AgentDefinition { return c.agents }

func (c fakeCatalog) Get(id string) (models.AgentDefinition, bool) {
	for _, a := range c.agents {
		if a.ID == id {
			return a, true
		}
	}
	return models.AgentDefinition{}, false
}

type fakeSnapshots struct{}

func (fakeSnapshots) Snapshot(_ context.Context, ticker string, _ []models.DataCategory) (*models.MarketSnapshot, error) {
	return &models.MarketSnapshot{
		Ticker: ticker,
		Price:  &models.PriceData{Current: 100},
		Stamps: map[models.DataCategory]models.FieldStamp{models.CategoryPrice: {FetchedAt: time.Now()}},
	}, nil
}

type staticPrompts struct{}

func (staticPrompts) Build(a models.AgentDefinition, ticker string, _ *models.MarketSnapshot, _ []models.AgentResponse) (service.Prompt, error) {
	return service.Prompt{System: a.ID, User: ticker}, nil
}

// briefingLog remembers which briefings each (agent, ticker) prompt was built with.
type briefingLog struct {
	mu   sync.Mutex
	seen map[string][]string
}

func (b *briefingLog) Build(a models.AgentDefinition, ticker string, _ *models.MarketSnapshot, briefings []models.AgentResponse) (service.Prompt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen == nil {
		b.seen = make(map[string][]string)
	}
	ids := []string{}
	for _, r := range briefings {
		ids = append(ids, r.AgentID+"@"+r.Ticker)
	}
	b.seen[a.ID+"/"+ticker] = ids
	return service.Prompt{System: a.ID, User: ticker}, nil
}

func (b *briefingLog) get(key string) ([]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids, ok := b.seen[key]
	return ids, ok
}

// funcInvoker answers per agent id.
type funcInvoker map[string]func(ctx context.Context, ticker string) models.AgentOutcome

func (f funcInvoker) Invoke(ctx context.Context, a models.AgentDefinition, ticker string, _ service.Prompt) models.AgentOutcome {
	return f[a.ID](ctx, ticker)
}

func vote(a models.AgentDefinition, s models.Signal, c models.Confidence) func(context.Context, string) models.AgentOutcome {
	return func(_ context.Context, ticker string) models.AgentOutcome {
		return models.Succeeded(models.AgentResponse{
			AgentID: a.ID, Ticker: ticker, Signal: s, Confidence: c, Weight: a.Weight,
			Reasoning: "r", Themes: []string{"moat"},
		})
	}
}

var (
	buffett    = models.AgentDefinition{ID: "buffett", Kind: models.AgentInvestor, Weight: 2.0, RequiredDataCategories: []models.DataCategory{models.CategoryPrice}}
	simons     = models.AgentDefinition{ID: "simons", Kind: models.AgentInvestor, Weight: 1.0, RequiredDataCategories: []models.DataCategory{models.CategoryPrice}}
	graham     = models.AgentDefinition{ID: "graham", Kind: models.AgentInvestor, Weight: 1.0, RequiredDataCategories: []models.DataCategory{models.CategoryPrice}}
	valuation  = models.AgentDefinition{ID: "valuation", Kind: models.AgentSpecialist, Weight: 1.5, RequiredDataCategories: []models.DataCategory{models.CategoryPrice}}
	testPanel  = []models.AgentDefinition{buffett, simons, graham}
	fullPanel  = []models.AgentDefinition{buffett, simons, graham, valuation}
	testConfig = OrchestratorConfig{MaxConcurrency: 4, Deadline: 5 * time.Second, DrainGrace: 20 * time.Millisecond}
)

func newOrchestrator(agents []models.AgentDefinition, invoker service.AgentInvoker, recorder *ResultRecorder, cfg OrchestratorConfig) *Orchestrator {
	runner := NewAgentRunner(staticPrompts{}, invoker, metrics.Nop{}, nil)
	return NewOrchestrator(
		fakeCatalog{agents: agents},
		fakeSnapshots{},
		runner,
		consensus.NewEngine(consensus.DefaultConfig()),
		cost.NewEstimator(cost.DefaultConfig("claude-sonnet-4-20250514")),
		recorder,
		metrics.Nop{},
		nil,
		cfg,
	)
}

func TestAnalyzeWeightedScenario(t *testing.T) {
	inv := funcInvoker{
		"buffett": vote(buffett, models.SignalBuy, models.ConfidenceHigh),
		"simons":  vote(simons, models.SignalStrongBuy, models.ConfidenceVeryHigh),
		"graham":  vote(graham, models.SignalHold, models.ConfidenceMedium),
	}
	o := newOrchestrator(testPanel, inv, nil, testConfig)

	res, err := o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{" aapl "}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, []string{"AAPL"}, res.Tickers)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, 3, res.AgentsUsed)
	require.NotNil(t, res.Estimate)

	r := res.Results[0]
	assert.InDelta(t, 185.0/3.4, r.Score, 1e-9)
	assert.Equal(t, models.SignalBuy, r.Signal)
	assert.Len(t, r.ContributingResponses, 3)
	assert.Empty(t, r.Failures)
	assert.Equal(t, res.RequestID, r.RequestID)
}

func TestAnalyzeAllAgentsFailTransiently(t *testing.T) {
	failing := &alwaysFailing{err: xerrors.Transient(xerrors.KindUpstream, 503, errors.New("overloaded"))}
	client := llm.NewRetryingClient(failing, llm.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, CallTimeout: time.Second})
	o := newOrchestrator(testPanel, client, nil, testConfig)

	res, err := o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{"MSFT"}})
	require.NoError(t, err)
	r := res.Results[0]
	assert.Empty(t, r.ContributingResponses)
	assert.Len(t, r.Failures, 3)
	assert.Equal(t, models.SignalHold, r.Signal)
	assert.Equal(t, models.ConfidenceVeryLow, r.Confidence)
	assert.True(t, r.Degraded)
	for _, f := range r.Failures {
		assert.Equal(t, models.FailureUpstream, f.Kind)
		assert.Equal(t, 3, f.Attempts)
	}
	assert.Equal(t, 9, failing.count())
}

type alwaysFailing struct {
	mu  sync.Mutex
	n   int
	err error
}

func (a *alwaysFailing) Name() string { return "failing" }

func (a *alwaysFailing) Call(context.Context, service.TransportRequest) (service.RawResponse, error) {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
	return service.RawResponse{}, a.err
}

func (a *alwaysFailing) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func TestAnalyzeDeadlineYieldsExactlyOneOutcomePerTask(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	inv := funcInvoker{
		"buffett": vote(buffett, models.SignalBuy, models.ConfidenceHigh),
		"simons":  vote(simons, models.SignalBuy, models.ConfidenceHigh),
		// ignores cancellation entirely
		"graham": func(_ context.Context, ticker string) models.AgentOutcome {
			<-release
			return models.Succeeded(models.AgentResponse{AgentID: "graham", Ticker: ticker, Signal: models.SignalSell, Confidence: models.ConfidenceHigh, Weight: 1})
		},
	}
	o := newOrchestrator(testPanel, inv, nil, testConfig)

	start := time.Now()
	res, err := o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{"AAPL", "MSFT"}, Deadline: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, res.Results, 2)
	total := 0
	for _, r := range res.Results {
		total += r.Selected()
		assert.Equal(t, 3, r.Selected())
		require.Len(t, r.Failures, 1)
		assert.Equal(t, "graham", r.Failures[0].AgentID)
		assert.Equal(t, models.FailureTimeout, r.Failures[0].Kind)
		assert.Equal(t, models.SignalBuy, r.Signal)
	}
	assert.Equal(t, 6, total)
}

func TestAnalyzeRejectsUnknownAgents(t *testing.T) {
	o := newOrchestrator(testPanel, funcInvoker{}, nil, testConfig)
	_, err := o.Analyze(context.Background(), AnalyzeInput{
		Tickers: []string{"AAPL"},
		Filter:  models.AgentFilter{IDs: []string{"Buffett", "soros"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "soros")

	_, err = o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{" ", ""}})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestResolveAgentsFilters(t *testing.T) {
	o := newOrchestrator(fullPanel, funcInvoker{}, nil, testConfig)

	all, err := o.ResolveAgents(models.AgentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	investors, err := o.ResolveAgents(models.AgentFilter{SkipSpecialists: true})
	require.NoError(t, err)
	assert.Len(t, investors, 3)

	picked, err := o.ResolveAgents(models.AgentFilter{IDs: []string{"GRAHAM", "valuation"}})
	require.NoError(t, err)
	ids := []string{picked[0].ID, picked[1].ID}
	sort.Strings(ids)
	assert.Equal(t, []string{"graham", "valuation"}, ids)

	_, err = o.ResolveAgents(models.AgentFilter{IDs: []string{"valuation"}, SkipSpecialists: true})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestEstimateUsesResolvedPanel(t *testing.T) {
	o := newOrchestrator(fullPanel, funcInvoker{}, nil, testConfig)
	est, err := o.Estimate([]string{"AAPL", "aapl", "MSFT"}, models.AgentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, est.TickerCount)
	assert.Equal(t, 8, est.TotalCalls)
}

func TestAnalyzeBriefsInvestorsWithSpecialistFindings(t *testing.T) {
	prompts := &briefingLog{}
	inv := funcInvoker{
		"buffett": vote(buffett, models.SignalBuy, models.ConfidenceHigh),
		"simons":  vote(simons, models.SignalBuy, models.ConfidenceHigh),
		"graham":  vote(graham, models.SignalHold, models.ConfidenceMedium),
		"valuation": func(ctx context.Context, ticker string) models.AgentOutcome {
			if ticker == "MSFT" {
				return models.Failed(models.AgentFailure{AgentID: "valuation", Ticker: ticker, Kind: models.FailureUpstream})
			}
			return vote(valuation, models.SignalStrongBuy, models.ConfidenceHigh)(ctx, ticker)
		},
	}
	runner := NewAgentRunner(prompts, inv, metrics.Nop{}, nil)
	o := newOrchestrator(fullPanel, inv, nil, testConfig)
	o.runner = runner

	res, err := o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{"AAPL", "MSFT"}})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	own, ok := prompts.get("valuation/AAPL")
	require.True(t, ok)
	assert.Empty(t, own)
	for _, id := range []string{"buffett", "simons", "graham"} {
		got, ok := prompts.get(id + "/AAPL")
		require.True(t, ok, id)
		assert.Equal(t, []string{"valuation@AAPL"}, got, id)

		got, ok = prompts.get(id + "/MSFT")
		require.True(t, ok, id)
		assert.Empty(t, got, "a failed specialist briefs nobody")
	}

	// specialists still vote and complete ahead of every investor
	aapl := res.Results[0]
	require.Len(t, aapl.ContributingResponses, 4)
	assert.Equal(t, "valuation", aapl.ContributingResponses[0].AgentID)
	assert.Equal(t, "valuation", res.Results[1].Failures[0].AgentID)
}

func TestEstimateProfileMatchesBriefedPrompts(t *testing.T) {
	profiles := cost.DefaultConfig("claude-sonnet-4-20250514")
	inv := funcInvoker{
		"buffett":   vote(buffett, models.SignalBuy, models.ConfidenceHigh),
		"simons":    vote(simons, models.SignalBuy, models.ConfidenceHigh),
		"graham":    vote(graham, models.SignalHold, models.ConfidenceMedium),
		"valuation": vote(valuation, models.SignalBuy, models.ConfidenceHigh),
	}

	cases := []struct {
		name    string
		filter  models.AgentFilter
		profile cost.TokenProfile
		briefed bool
	}{
		{"with specialists", models.AgentFilter{}, profiles.Investor, true},
		{"skip specialists", models.AgentFilter{SkipSpecialists: true}, profiles.InvestorSkipSpecialists, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prompts := &briefingLog{}
			o := newOrchestrator(fullPanel, inv, nil, testConfig)
			o.runner = NewAgentRunner(prompts, inv, metrics.Nop{}, nil)

			res, err := o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{"AAPL"}, Filter: tc.filter})
			require.NoError(t, err)

			line, ok := res.Estimate.Component(cost.ComponentInvestors)
			require.True(t, ok)
			assert.Equal(t, int64(line.Calls)*tc.profile.Input, line.InputTokens)

			got, ok := prompts.get("buffett/AAPL")
			require.True(t, ok)
			assert.Equal(t, tc.briefed, len(got) > 0)
		})
	}
}

type memStore struct {
	mu    sync.Mutex
	saved []models.ConsensusResult
	err   error
}

func (m *memStore) Init(context.Context) error { return nil }
func (m *memStore) Save(_ context.Context, r *models.ConsensusResult) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, *r)
	return "rec-" + r.Ticker, nil
}
func (m *memStore) Load(context.Context, string) (*models.ConsensusResult, error) { return nil, nil }
func (m *memStore) LoadHistory(context.Context, models.HistoryFilter) ([]models.ConsensusResult, error) {
	return nil, nil
}
func (m *memStore) Health(context.Context) error { return nil }
func (m *memStore) Close() error { return nil }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *models.ConsensusResult) error {
	return errors.New("broker down")
}
func (failingPublisher) PublishBatch(context.Context, []models.ConsensusResult) error {
	return errors.New("broker down")
}
func (failingPublisher) Close() error { return nil }

func TestAnalyzeRecordsResultsAndToleratesPublishFailure(t *testing.T) {
	store := &memStore{}
	rec := NewResultRecorder(store, failingPublisher{}, metrics.Nop{}, nil, "memory")
	inv := funcInvoker{
		"buffett": vote(buffett, models.SignalHold, models.ConfidenceLow),
		"simons":  vote(simons, models.SignalHold, models.ConfidenceLow),
		"graham":  vote(graham, models.SignalHold, models.ConfidenceLow),
	}
	o := newOrchestrator(testPanel, inv, rec, testConfig)

	res, err := o.Analyze(context.Background(), AnalyzeInput{Tickers: []string{"AAPL", "MSFT"}})
	require.NoError(t, err)
	require.Len(t, store.saved, 2)
	assert.Equal(t, "rec-AAPL", res.Results[0].ID)
	assert.Equal(t, "rec-MSFT", res.Results[1].ID)
}

type panickingInvoker struct{}

func (panickingInvoker) Invoke(context.Context, models.AgentDefinition, string, service.Prompt) models.AgentOutcome {
	panic("boom")
}

func TestAgentRunnerRecoversPanics(t *testing.T) {
	r := NewAgentRunner(staticPrompts{}, panickingInvoker{}, metrics.Nop{}, nil)
	out := r.Run(context.Background(), buffett, "AAPL", nil, nil)
	require.False(t, out.OK())
	assert.Equal(t, models.FailureUpstream, out.Failure.Kind)
	assert.Contains(t, out.Failure.Detail, "boom")
}
