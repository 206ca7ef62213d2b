package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	"Consilium/internal/handler/api"
	"Consilium/internal/usecase"
	"Consilium/pkg/config"
	xerrors "Consilium/pkg/errors"
)

type fakeService struct {
	analyzeCalls int
	lastInput    usecase.AnalyzeInput
	lastFilter   models.HistoryFilter
	history      []models.ConsensusResult
}

func (f *fakeService) Analyze(_ context.Context, in usecase.AnalyzeInput) (*models.AnalysisResult, error) {
	f.analyzeCalls++
	f.lastInput = in
	return &models.AnalysisResult{
		RequestID:  "req-1",
		Tickers:    in.Tickers,
		AgentsUsed: 2,
		Results: []models.ConsensusResult{{
			Ticker:     "AAPL",
			Score:      62.5,
			Signal:     models.SignalStrongBuy,
			Confidence: models.ConfidenceHigh,
			ContributingResponses: []models.AgentResponse{
				{AgentID: "buffett", AgentName: "Warren Buffett", Signal: models.SignalBuy, Confidence: models.ConfidenceHigh},
			},
			Failures: []models.AgentFailure{{AgentID: "burry", Kind: models.FailureTimeout}},
		}},
	}, nil
}

func (f *fakeService) Estimate(tickers []string, _ models.AgentFilter) (models.CostEstimate, error) {
	if len(tickers) == 0 {
		return models.CostEstimate{}, xerrors.ErrInvalidInput
	}
	return models.CostEstimate{
		Model:       "claude-sonnet-4",
		TickerCount: len(tickers),
		PerComponentBreakdown: []models.ComponentCost{
			{Component: "investors", Calls: 13, InputTokens: 32500, OutputTokens: 9100, Cost: decimal.RequireFromString("0.234")},
		},
		TotalCalls:        13,
		TotalInputTokens:  32500,
		TotalOutputTokens: 9100,
		TotalCost:         decimal.RequireFromString("0.234"),
	}, nil
}

func (f *fakeService) History(_ context.Context, hf models.HistoryFilter) ([]models.ConsensusResult, error) {
	f.lastFilter = hf
	return f.history, nil
}

func (f *fakeService) Result(_ context.Context, id string) (*models.ConsensusResult, error) {
	for i := range f.history {
		if f.history[i].ID == id {
			return &f.history[i], nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeService) Agents(kind models.AgentKind) []models.AgentDefinition {
	all := []models.AgentDefinition{
		{ID: "buffett", DisplayName: "Warren Buffett", Kind: models.AgentInvestor, Weight: 2, RequiredDataCategories: []models.DataCategory{models.CategoryFundamentals}},
		{ID: "technicals", DisplayName: "Technical Analyst", Kind: models.AgentSpecialist, Weight: 1},
	}
	var out []models.AgentDefinition
	for _, a := range all {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func run(t *testing.T, svc *fakeService, apiKey string, args ...string) (string, error) {
	t.Helper()
	d := deps{
		load: func(string) (*config.Config, error) {
			cfg := config.Default()
			cfg.LLM.APIKey = apiKey
			return cfg, nil
		},
		open: func(*config.Config) (api.AnalysisService, func(), error) {
			return svc, func() {}, nil
		},
	}
	cmd := newRootCmd(d)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeWithoutConfirmationOnlyEstimates(t *testing.T) {
	svc := &fakeService{}
	out, err := run(t, svc, "", "analyze", "AAPL", "MSFT")
	require.NoError(t, err)

	assert.Equal(t, 0, svc.analyzeCalls)
	assert.Contains(t, out, "2 ticker(s)")
	assert.Contains(t, out, "32,500")
	assert.Contains(t, out, "$0.2340")
	assert.Contains(t, out, "--yes")
}

func TestAnalyzeConfirmedRunsPanel(t *testing.T) {
	svc := &fakeService{}
	out, err := run(t, svc, "sk-test", "analyze", "aapl", "--yes", "--agents", "buffett,burry", "--skip-specialists")
	require.NoError(t, err)

	require.Equal(t, 1, svc.analyzeCalls)
	assert.Equal(t, []string{"aapl"}, svc.lastInput.Tickers)
	assert.Equal(t, []string{"buffett", "burry"}, svc.lastInput.Filter.IDs)
	assert.True(t, svc.lastInput.Filter.SkipSpecialists)
	assert.Contains(t, out, "STRONG_BUY")
	assert.Contains(t, out, "1 of 2 agents responded")
	assert.Contains(t, out, "TIMEOUT")
}

func TestAnalyzeJSON(t *testing.T) {
	svc := &fakeService{}
	out, err := run(t, svc, "sk-test", "analyze", "AAPL", "-y", "--json")
	require.NoError(t, err)

	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "req-1", res.RequestID)
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.SignalStrongBuy, res.Results[0].Signal)
}

func TestAnalyzeRequiresAPIKey(t *testing.T) {
	svc := &fakeService{}
	_, err := run(t, svc, "", "analyze", "AAPL", "--yes")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
	assert.Equal(t, 78, exitCode(err))
	assert.Equal(t, 0, svc.analyzeCalls)
}

func TestAnalyzeNeedsTicker(t *testing.T) {
	_, err := run(t, &fakeService{}, "", "analyze")
	assert.Error(t, err)
}

func TestHistoryListAndShow(t *testing.T) {
	created := time.Now().Add(-2 * time.Hour)
	svc := &fakeService{history: []models.ConsensusResult{
		{ID: "11111111-2222-3333-4444-555555555555", Ticker: "NVDA", Signal: models.SignalSell, Score: -31, CreatedAt: created, Reasoning: "Consensus for NVDA: SELL"},
	}}

	out, err := run(t, svc, "", "history", "--ticker", "nvda", "--signal", "sell", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", svc.lastFilter.Ticker)
	assert.Equal(t, models.SignalSell, svc.lastFilter.Signal)
	assert.Equal(t, 5, svc.lastFilter.Limit)
	assert.Contains(t, out, "11111111-2222-3333-4444-555555555555")
	assert.Contains(t, out, "2 hours ago")

	out, err = run(t, svc, "", "history", "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	assert.Contains(t, out, "Consensus for NVDA: SELL")

	_, err = run(t, svc, "", "history", "missing")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestHistoryFilter(t *testing.T) {
	cases := []struct {
		name                     string
		signal, from, to         string
		wantErr                  bool
		wantFromSet, wantToIsSet bool
	}{
		{name: "empty"},
		{name: "dates", from: "2025-01-01", to: "2025-02-01", wantFromSet: true, wantToIsSet: true},
		{name: "bad signal", signal: "maybe", wantErr: true},
		{name: "bad from", from: "yesterday", wantErr: true},
		{name: "inverted range", from: "2025-02-01", to: "2025-01-01", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := historyFilter("aapl", tc.signal, tc.from, tc.to, 10)
			if tc.wantErr {
				assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "AAPL", f.Ticker)
			assert.Equal(t, tc.wantFromSet, !f.From.IsZero())
			assert.Equal(t, tc.wantToIsSet, !f.To.IsZero())
		})
	}
}

func TestAgentsCommand(t *testing.T) {
	out, err := run(t, &fakeService{}, "", "agents", "--kind", "investor")
	require.NoError(t, err)
	assert.Contains(t, out, "Warren Buffett")
	assert.NotContains(t, out, "Technical Analyst")
	assert.Contains(t, out, "fundamentals")

	_, err = run(t, &fakeService{}, "", "agents", "--kind", "robot")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	assert.Equal(t, 64, exitCode(err))
}
