package models

import "time"

// AgentResponse is the normalized result of one successful agent invocation.
type AgentResponse struct {
	AgentID     string        `json:"agent_id"`
	AgentName   string        `json:"agent_name"`
	Ticker      string        `json:"ticker"`
	Signal      Signal        `json:"signal"`
	Confidence  Confidence    `json:"confidence"`
	Reasoning   string        `json:"reasoning"`
	Themes      []string      `json:"themes"`
	Risks       []string      `json:"risks"`
	TargetPrice *float64      `json:"target_price,omitempty"`
	TimeHorizon string        `json:"time_horizon,omitempty"`
	Weight      float64       `json:"weight"`
	TokensIn    int64         `json:"tokens_in"`
	TokensOut   int64         `json:"tokens_out"`
	Latency     time.Duration `json:"latency"`
	CompletedAt time.Time     `json:"completed_at"`
}

// FailureKind enumerates why an agent produced no vote.
type FailureKind string

const (
	FailureTimeout       FailureKind = "TIMEOUT"
	FailureRateLimited   FailureKind = "RATE_LIMITED"
	FailureInvalidOutput FailureKind = "INVALID_OUTPUT"
	FailureUpstream      FailureKind = "UPSTREAM_ERROR"
)

// AgentFailure is the tagged alternative to AgentResponse. It counts as an abstention.
type AgentFailure struct {
	AgentID  string        `json:"agent_id"`
	Ticker   string        `json:"ticker"`
	Kind     FailureKind   `json:"kind"`
	Detail   string        `json:"detail"`
	Attempts int           `json:"attempts"`
	Latency  time.Duration `json:"latency"`
}

// AgentOutcome carries exactly one of Response or Failure.
type AgentOutcome struct {
	Response *AgentResponse
	Failure  *AgentFailure
}

// Succeeded outcome constructor.
func Succeeded(r AgentResponse) AgentOutcome { return AgentOutcome{Response: &r} }

// Failed outcome constructor.
func Failed(f AgentFailure) AgentOutcome { return AgentOutcome{Failure: &f} }

// OK reports whether the outcome holds a response.
func (o AgentOutcome) OK() bool { return o.Response != nil }

// AgentID returns the id regardless of variant.
func (o AgentOutcome) AgentID() string {
	if o.Response != nil {
		return o.Response.AgentID
	}
	if o.Failure != nil {
		return o.Failure.AgentID
	}
	return ""
}

// Ticker returns the ticker regardless of variant.
func (o AgentOutcome) Ticker() string {
	if o.Response != nil {
		return o.Response.Ticker
	}
	if o.Failure != nil {
		return o.Failure.Ticker
	}
	return ""
}
