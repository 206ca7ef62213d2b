package models

import (
	"fmt"
	"time"
)

// VoteCounts tallies responses by direction. Failures are abstentions and counted separately.
type VoteCounts struct {
	Buy       int `json:"buy"`
	Hold      int `json:"hold"`
	Sell      int `json:"sell"`
	Abstained int `json:"abstained"`
}

// ConsensusResult is the weighted verdict for a single ticker.
type ConsensusResult struct {
	ID                    string          `json:"id,omitempty"`
	RequestID             string          `json:"request_id,omitempty"`
	Ticker                string          `json:"ticker"`
	Score                 float64         `json:"score"`
	Signal                Signal          `json:"signal"`
	Confidence            Confidence      `json:"confidence"`
	VoteCounts            VoteCounts      `json:"vote_counts"`
	AgreementRatio        float64         `json:"agreement_ratio"`
	ContributingResponses []AgentResponse `json:"contributing_responses"`
	Failures              []AgentFailure  `json:"failures"`
	Dissenters            []string        `json:"dissenters,omitempty"`
	KeyThemes             []string        `json:"key_themes,omitempty"`
	PrimaryRisks          []string        `json:"primary_risks,omitempty"`
	Reasoning             string          `json:"reasoning"`
	Degraded              bool            `json:"degraded"`
	MissingData           []DataCategory  `json:"missing_data,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// Responded is the number of agents that produced a vote.
func (r *ConsensusResult) Responded() int { return len(r.ContributingResponses) }

// Selected is the number of agents dispatched for this ticker.
func (r *ConsensusResult) Selected() int {
	return len(r.ContributingResponses) + len(r.Failures)
}

// Coverage renders e.g. "11 of 13 agents responded".
func (r *ConsensusResult) Coverage() string {
	return fmt.Sprintf("%d of %d agents responded", r.Responded(), r.Selected())
}

// TokenUsage sums tokens across contributing responses.
func (r *ConsensusResult) TokenUsage() (in, out int64) {
	for _, resp := range r.ContributingResponses {
		in += resp.TokensIn
		out += resp.TokensOut
	}
	return in, out
}

// AnalysisResult is the envelope returned for one analyze call.
type AnalysisResult struct {
	RequestID     string            `json:"request_id"`
	Tickers       []string          `json:"tickers"`
	Results       []ConsensusResult `json:"results"`
	AgentsUsed    int               `json:"agents_used"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
	ExecutionTime time.Duration     `json:"execution_time"`
	Estimate      *CostEstimate     `json:"estimate,omitempty"`
}

// HistoryFilter narrows LoadHistory queries. Zero values mean "any".
type HistoryFilter struct {
	Ticker string
	Signal Signal
	From   time.Time
	To     time.Time
	Limit  int
}
