package cost

import (
	"strings"

	"github.com/shopspring/decimal"

	"Consilium/internal/domain/models"
)

const (
	ComponentSpecialists = "specialists"
	ComponentInvestors   = "investors"
)

var perMillion = decimal.NewFromInt(1_000_000)

// TokenProfile is the expected token usage of one agent call.
type TokenProfile struct {
	Input  int64
	Output int64
}

// Price is USD per million tokens for any model whose name contains Match.
type Price struct {
	Match  string
	Input  decimal.Decimal
	Output decimal.Decimal
}

type Config struct {
	Model                   string
	Specialist              TokenProfile
	Investor                TokenProfile
	InvestorSkipSpecialists TokenProfile
	Pricing                 []Price
	Fallback                Price
}

func DefaultConfig(model string) Config {
	sonnet := Price{Match: "sonnet", Input: decimal.NewFromInt(3), Output: decimal.NewFromInt(15)}
	return Config{
		Model:                   model,
		Specialist:              TokenProfile{Input: 600, Output: 500},
		Investor:                TokenProfile{Input: 2500, Output: 700},
		InvestorSkipSpecialists: TokenProfile{Input: 1300, Output: 700},
		Pricing: []Price{
			{Match: "opus", Input: decimal.NewFromInt(15), Output: decimal.NewFromInt(75)},
			sonnet,
			{Match: "haiku", Input: decimal.RequireFromString("0.25"), Output: decimal.RequireFromString("1.25")},
		},
		Fallback: sonnet,
	}
}

// Estimator projects token usage and spend before an analysis runs. It performs no I/O.
type Estimator struct {
	cfg   Config
	price Price
}

func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg, price: priceFor(cfg.Model, cfg.Pricing, cfg.Fallback)}
}

func priceFor(model string, pricing []Price, fallback Price) Price {
	m := strings.ToLower(model)
	for _, p := range pricing {
		if p.Match != "" && strings.Contains(m, strings.ToLower(p.Match)) {
			return p
		}
	}
	return fallback
}

// Estimate returns the projected cost of running agents against tickerCount tickers.
// Investors use the larger prompt profile when specialists are part of the run, since
// their prompts then carry the specialist reports for the ticker.
func (e *Estimator) Estimate(agents []models.AgentDefinition, tickerCount int) models.CostEstimate {
	var specialists, investors int
	for _, a := range agents {
		if a.IsSpecialist() {
			specialists++
		} else {
			investors++
		}
	}

	investorProfile := e.cfg.Investor
	if specialists == 0 {
		investorProfile = e.cfg.InvestorSkipSpecialists
	}

	est := models.CostEstimate{Model: e.cfg.Model, TickerCount: tickerCount, TotalCost: decimal.Zero}
	if tickerCount <= 0 {
		return est
	}

	for _, line := range []struct {
		name    string
		agents  int
		profile TokenProfile
	}{
		{ComponentSpecialists, specialists, e.cfg.Specialist},
		{ComponentInvestors, investors, investorProfile},
	} {
		if line.agents == 0 {
			continue
		}
		calls := line.agents * tickerCount
		c := models.ComponentCost{
			Component:    line.name,
			Calls:        calls,
			InputTokens:  int64(calls) * line.profile.Input,
			OutputTokens: int64(calls) * line.profile.Output,
		}
		c.Cost = e.tokenCost(c.InputTokens, c.OutputTokens)

		est.PerComponentBreakdown = append(est.PerComponentBreakdown, c)
		est.TotalCalls += c.Calls
		est.TotalInputTokens += c.InputTokens
		est.TotalOutputTokens += c.OutputTokens
		est.TotalCost = est.TotalCost.Add(c.Cost)
	}
	return est
}

// Actual prices the tokens recorded on completed results.
func (e *Estimator) Actual(in, out int64) decimal.Decimal {
	return e.tokenCost(in, out)
}

func (e *Estimator) tokenCost(in, out int64) decimal.Decimal {
	inCost := decimal.NewFromInt(in).Mul(e.price.Input).Div(perMillion)
	outCost := decimal.NewFromInt(out).Mul(e.price.Output).Div(perMillion)
	return inCost.Add(outCost)
}
