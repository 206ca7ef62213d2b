package consensus

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
)

func resp(id string, s models.Signal, c models.Confidence, w float64) models.AgentResponse {
	return models.AgentResponse{AgentID: id, Ticker: "AAPL", Signal: s, Confidence: c, Weight: w}
}

func fixedEngine() *Engine {
	at := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	return NewEngine(DefaultConfig(), WithClock(func() time.Time { return at }))
}

func TestAggregateWorkedExample(t *testing.T) {
	e := fixedEngine()
	responses := []models.AgentResponse{
		resp("buffett", models.SignalBuy, models.ConfidenceHigh, 2.0),
		resp("simons", models.SignalStrongBuy, models.ConfidenceVeryHigh, 1.0),
		resp("graham", models.SignalHold, models.ConfidenceMedium, 1.0),
	}

	r := e.Aggregate("AAPL", responses, nil)

	assert.InDelta(t, 185.0/3.4, r.Score, 1e-9)
	assert.InDelta(t, 54.41, r.Score, 0.005)
	assert.Equal(t, models.SignalBuy, r.Signal)
	assert.Equal(t, models.VoteCounts{Buy: 2, Hold: 1}, r.VoteCounts)
	assert.InDelta(t, 2.0/3.0, r.AgreementRatio, 1e-9)
	assert.Equal(t, models.ConfidenceMedium, r.Confidence)
	// HOLD sits exactly 50 from BUY's base score, which is not dissent.
	assert.Empty(t, r.Dissenters)
	assert.False(t, r.Degraded)
	assert.Equal(t, "Consensus for AAPL: BUY (weighted score: 54.41). 2/3 agents agree. Dissenters: none.", r.Reasoning)
	assert.Equal(t, time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC), r.CreatedAt)
}

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  models.Signal
	}{
		{100, models.SignalStrongBuy},
		{60.0, models.SignalStrongBuy},
		{59.999, models.SignalBuy},
		{20, models.SignalBuy},
		{19.999, models.SignalHold},
		{0, models.SignalHold},
		{-19.999, models.SignalHold},
		{-20, models.SignalSell},
		{-59.999, models.SignalSell},
		{-60, models.SignalStrongSell},
		{-100, models.SignalStrongSell},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, th.Classify(tc.score), "score %v", tc.score)
	}
}

func TestAggregateZeroResponses(t *testing.T) {
	failures := []models.AgentFailure{
		{AgentID: "buffett", Ticker: "AAPL", Kind: models.FailureUpstream},
		{AgentID: "munger", Ticker: "AAPL", Kind: models.FailureRateLimited},
		{AgentID: "graham", Ticker: "AAPL", Kind: models.FailureTimeout},
	}

	r := fixedEngine().Aggregate("AAPL", nil, failures)

	assert.Equal(t, 0.0, r.Score)
	assert.Equal(t, models.SignalHold, r.Signal)
	assert.Equal(t, models.ConfidenceVeryLow, r.Confidence)
	assert.True(t, r.Degraded)
	assert.Empty(t, r.ContributingResponses)
	assert.Len(t, r.Failures, 3)
	assert.Equal(t, 3, r.VoteCounts.Abstained)
	assert.Equal(t, "0 of 3 agents responded", r.Coverage())
}

func TestAggregateZeroWeightDenominator(t *testing.T) {
	r := fixedEngine().Aggregate("AAPL", []models.AgentResponse{
		resp("a", models.SignalStrongBuy, models.ConfidenceVeryHigh, 0),
		resp("b", models.SignalBuy, models.ConfidenceHigh, 0),
	}, nil)

	assert.Equal(t, 0.0, r.Score)
	assert.Equal(t, models.SignalHold, r.Signal)
	assert.Equal(t, models.ConfidenceVeryLow, r.Confidence)
	assert.False(t, r.Degraded)
}

func TestAggregatePermutationInvariant(t *testing.T) {
	e := fixedEngine()
	signals := models.AllSignals
	confs := []models.Confidence{models.ConfidenceVeryHigh, models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow, models.ConfidenceVeryLow}

	rng := rand.New(rand.NewSource(7))
	var responses []models.AgentResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, resp(
			string(rune('a'+i)),
			signals[rng.Intn(len(signals))],
			confs[rng.Intn(len(confs))],
			0.5+rng.Float64()*2,
		))
	}

	base := e.Aggregate("AAPL", responses, nil)
	for i := 0; i < 25; i++ {
		shuffled := append([]models.AgentResponse(nil), responses...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := e.Aggregate("AAPL", shuffled, nil)
		require.Equal(t, base.Score, got.Score)
		require.Equal(t, base.Signal, got.Signal)
		require.Equal(t, base.Confidence, got.Confidence)
		require.Equal(t, base.VoteCounts, got.VoteCounts)
		require.Equal(t, base.AgreementRatio, got.AgreementRatio)
		require.ElementsMatch(t, base.Dissenters, got.Dissenters)
		require.Equal(t, shuffled, got.ContributingResponses)
	}
}

func TestAggregateScoreBounded(t *testing.T) {
	e := fixedEngine()
	rng := rand.New(rand.NewSource(42))
	confs := []models.Confidence{models.ConfidenceVeryHigh, models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow, models.ConfidenceVeryLow}

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(15)
		responses := make([]models.AgentResponse, n)
		for i := range responses {
			responses[i] = resp(
				string(rune('a'+i)),
				models.AllSignals[rng.Intn(5)],
				confs[rng.Intn(5)],
				rng.Float64()*3,
			)
		}
		r := e.Aggregate("MSFT", responses, nil)
		assert.GreaterOrEqual(t, r.Score, -100.0)
		assert.LessOrEqual(t, r.Score, 100.0)
		assert.GreaterOrEqual(t, r.AgreementRatio, 0.0)
		assert.LessOrEqual(t, r.AgreementRatio, 1.0)
	}
}

func TestAggregateDissentersMeasuredAgainstVerdict(t *testing.T) {
	r := fixedEngine().Aggregate("NVDA", []models.AgentResponse{
		resp("wood", models.SignalStrongBuy, models.ConfidenceVeryHigh, 3.0),
		resp("lynch", models.SignalBuy, models.ConfidenceHigh, 1.0),
		resp("burry", models.SignalSell, models.ConfidenceMedium, 1.0),
		resp("graham", models.SignalHold, models.ConfidenceLow, 1.0),
	}, nil)

	// The weighted score lands in STRONG_BUY, so BUY (100-50) is not a dissenter while
	// HOLD and SELL are.
	require.Equal(t, models.SignalStrongBuy, r.Signal)
	assert.Less(t, r.Score, 100.0)
	assert.Equal(t, []string{"burry", "graham"}, r.Dissenters)
	assert.Contains(t, r.Reasoning, "Dissenters: burry, graham.")
}

func TestAggregatePermutationInvariantWithDuplicateIDs(t *testing.T) {
	e := fixedEngine()
	responses := []models.AgentResponse{
		resp("dup", models.SignalBuy, models.ConfidenceHigh, 0.7),
		resp("dup", models.SignalSell, models.ConfidenceLow, 1.9),
		resp("dup", models.SignalStrongBuy, models.ConfidenceVeryHigh, 0.3),
		resp("dup", models.SignalBuy, models.ConfidenceHigh, 2.2),
		resp("other", models.SignalHold, models.ConfidenceMedium, 1.1),
	}

	base := e.Aggregate("AAPL", responses, nil)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		shuffled := append([]models.AgentResponse(nil), responses...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, base.Score, e.Aggregate("AAPL", shuffled, nil).Score)
	}
}

func TestAggregateUnanimousStrongSell(t *testing.T) {
	r := fixedEngine().Aggregate("TSLA", []models.AgentResponse{
		resp("burry", models.SignalStrongSell, models.ConfidenceVeryHigh, 1.3),
		resp("munger", models.SignalStrongSell, models.ConfidenceVeryHigh, 1.8),
	}, nil)

	assert.Equal(t, -100.0, r.Score)
	assert.Equal(t, models.SignalStrongSell, r.Signal)
	assert.Equal(t, 1.0, r.AgreementRatio)
	assert.Equal(t, models.ConfidenceVeryHigh, r.Confidence)
	assert.Empty(t, r.Dissenters)
	assert.Equal(t, 2, r.VoteCounts.Sell)
}

func TestAggregateThemesAndRisks(t *testing.T) {
	a := resp("a", models.SignalBuy, models.ConfidenceHigh, 1)
	a.Themes = []string{"Moat", "Pricing power", "Buybacks"}
	a.Risks = []string{"Regulation"}
	b := resp("b", models.SignalBuy, models.ConfidenceHigh, 1)
	b.Themes = []string{"buybacks", "AI capex", "moat"}
	b.Risks = []string{"China exposure", "regulation"}
	c := resp("c", models.SignalHold, models.ConfidenceLow, 1)
	c.Themes = []string{"Services growth", "Moat", "Margins", "Dividend"}

	r := fixedEngine().Aggregate("AAPL", []models.AgentResponse{a, b, c}, nil)

	assert.Equal(t, []string{"Moat", "Buybacks", "Pricing power", "AI capex", "Services growth"}, r.KeyThemes)
	assert.Equal(t, []string{"Regulation", "China exposure"}, r.PrimaryRisks)
}

func TestAggregateFailuresKeptAndReported(t *testing.T) {
	r := fixedEngine().Aggregate("AAPL",
		[]models.AgentResponse{resp("a", models.SignalHold, models.ConfidenceMedium, 1)},
		[]models.AgentFailure{{AgentID: "b", Ticker: "AAPL", Kind: models.FailureInvalidOutput}},
	)

	require.Len(t, r.Failures, 1)
	assert.Equal(t, models.FailureInvalidOutput, r.Failures[0].Kind)
	assert.Equal(t, 1, r.VoteCounts.Abstained)
	assert.Contains(t, r.Reasoning, "1 of 2 agents responded")
}

func TestCustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds = Thresholds{StrongBuy: 80, Buy: 40, Hold: -40, Sell: -80}
	e := NewEngine(cfg)

	r := e.Aggregate("AAPL", []models.AgentResponse{
		resp("a", models.SignalBuy, models.ConfidenceVeryHigh, 1),
	}, nil)
	assert.Equal(t, 50.0, r.Score)
	assert.Equal(t, models.SignalBuy, r.Signal)

	r = e.Aggregate("AAPL", []models.AgentResponse{
		resp("a", models.SignalBuy, models.ConfidenceVeryHigh, 1),
		resp("b", models.SignalHold, models.ConfidenceVeryHigh, 1),
	}, nil)
	assert.Equal(t, 25.0, r.Score)
	assert.Equal(t, models.SignalHold, r.Signal)
}
