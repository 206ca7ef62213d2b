package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"Consilium/internal/domain/models"
)

// Thresholds are the lower bounds of each band, evaluated from the top down.
// STRONG_BUY and BUY are inclusive; HOLD and SELL are exclusive.
type Thresholds struct {
	StrongBuy float64
	Buy       float64
	Hold      float64
	Sell      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{StrongBuy: 60, Buy: 20, Hold: -20, Sell: -60}
}

// Classify maps a weighted score onto a signal. First match wins.
func (t Thresholds) Classify(score float64) models.Signal {
	switch {
	case score >= t.StrongBuy:
		return models.SignalStrongBuy
	case score >= t.Buy:
		return models.SignalBuy
	case score > t.Hold:
		return models.SignalHold
	case score > t.Sell:
		return models.SignalSell
	default:
		return models.SignalStrongSell
	}
}

type Config struct {
	Thresholds       Thresholds
	DissentThreshold float64
	TopN             int
}

func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), DissentThreshold: 50, TopN: 5}
}

type Option func(*Engine)

// WithClock overrides the timestamp source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine folds agent responses into a ConsensusResult. It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	e := &Engine{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Aggregate computes the weighted verdict for one ticker. responses keep their completion
// order in the result; the arithmetic does not depend on it.
func (e *Engine) Aggregate(ticker string, responses []models.AgentResponse, failures []models.AgentFailure) models.ConsensusResult {
	res := models.ConsensusResult{
		Ticker:                ticker,
		ContributingResponses: append([]models.AgentResponse(nil), responses...),
		Failures:              append([]models.AgentFailure(nil), failures...),
		CreatedAt:             e.now().UTC(),
	}
	res.VoteCounts.Abstained = len(failures)

	if len(responses) == 0 {
		res.Signal = models.SignalHold
		res.Confidence = models.ConfidenceVeryLow
		res.Degraded = true
		res.Reasoning = fmt.Sprintf("Consensus for %s: %s (weighted score: %.2f). No agent responses (%d failed).",
			ticker, res.Signal, res.Score, len(failures))
		return res
	}

	for _, r := range responses {
		switch r.Signal.Direction() {
		case models.Bullish:
			res.VoteCounts.Buy++
		case models.Bearish:
			res.VoteCounts.Sell++
		default:
			res.VoteCounts.Hold++
		}
	}

	score, ok := weightedScore(responses)
	res.Score = score
	res.Signal = e.cfg.Thresholds.Classify(score)

	direction := res.Signal.Direction()
	agreeing := 0
	multSum := 0.0
	for _, r := range responses {
		if r.Signal.Direction() == direction {
			agreeing++
			multSum += r.Confidence.Multiplier()
		}
	}
	res.AgreementRatio = float64(agreeing) / float64(len(responses))

	if ok {
		meanMult := 0.5
		if agreeing > 0 {
			meanMult = multSum / float64(agreeing)
		}
		res.Confidence = confidenceFor(res.AgreementRatio * meanMult)
	} else {
		res.Confidence = models.ConfidenceVeryLow
	}

	// Dissent is measured against the verdict's own base score, not the weighted mean.
	final := res.Signal.BaseScore()
	for _, r := range responses {
		if math.Abs(r.Signal.BaseScore()-final) > e.cfg.DissentThreshold {
			res.Dissenters = append(res.Dissenters, r.AgentID)
		}
	}

	themes := make([][]string, 0, len(responses))
	risks := make([][]string, 0, len(responses))
	for _, r := range responses {
		themes = append(themes, r.Themes)
		risks = append(risks, r.Risks)
	}
	res.KeyThemes = topByFrequency(themes, e.cfg.TopN)
	res.PrimaryRisks = topByFrequency(risks, e.cfg.TopN)

	res.Reasoning = reasoning(ticker, res, agreeing)
	return res
}

// weightedScore returns Σ(base×w×m)/Σ(w×m) clamped to [-100, 100]. ok is false when the
// denominator is zero. Terms are summed in a canonical order (agent id, then signal,
// confidence and weight) so the result is bit-identical for any permutation of the input.
func weightedScore(responses []models.AgentResponse) (float64, bool) {
	ordered := append([]models.AgentResponse(nil), responses...)
	sort.Slice(ordered, func(i, j int) bool { return lessResponse(ordered[i], ordered[j]) })

	var num, den float64
	for _, r := range ordered {
		w := r.Weight * r.Confidence.Multiplier()
		num += r.Signal.BaseScore() * w
		den += w
	}
	if den <= 0 {
		return 0, false
	}
	score := num / den
	return math.Max(-100, math.Min(100, score)), true
}

func lessResponse(a, b models.AgentResponse) bool {
	if a.AgentID != b.AgentID {
		return a.AgentID < b.AgentID
	}
	if a.Signal != b.Signal {
		return a.Signal < b.Signal
	}
	if a.Confidence != b.Confidence {
		return a.Confidence < b.Confidence
	}
	return a.Weight < b.Weight
}

func confidenceFor(v float64) models.Confidence {
	switch {
	case v >= 0.8:
		return models.ConfidenceVeryHigh
	case v >= 0.65:
		return models.ConfidenceHigh
	case v >= 0.5:
		return models.ConfidenceMedium
	case v >= 0.35:
		return models.ConfidenceLow
	default:
		return models.ConfidenceVeryLow
	}
}

// topByFrequency counts case-insensitively and keeps the first spelling seen.
// Ties are broken by first appearance.
func topByFrequency(lists [][]string, n int) []string {
	type entry struct {
		text  string
		count int
		first int
	}
	seen := map[string]*entry{}
	order := 0
	for _, list := range lists {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if e, ok := seen[key]; ok {
				e.count++
				continue
			}
			seen[key] = &entry{text: item, count: 1, first: order}
			order++
		}
	}
	if len(seen) == 0 {
		return nil
	}

	entries := make([]*entry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].first < entries[j].first
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.text
	}
	return out
}

func reasoning(ticker string, r models.ConsensusResult, agreeing int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consensus for %s: %s (weighted score: %.2f). %d/%d agents agree.",
		ticker, r.Signal, r.Score, agreeing, len(r.ContributingResponses))
	if len(r.Dissenters) > 0 {
		fmt.Fprintf(&b, " Dissenters: %s.", strings.Join(r.Dissenters, ", "))
	} else {
		b.WriteString(" Dissenters: none.")
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, " %s.", r.Coverage())
	}
	return b.String()
}
