package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"Consilium/internal/domain/models"
	xerrors "Consilium/pkg/errors"
)

var validate = validator.New()

type rawOutput struct {
	Signal      string   `json:"signal" validate:"required"`
	Confidence  string   `json:"confidence" validate:"required"`
	TargetPrice *float64 `json:"target_price" validate:"omitempty,gte=0"`
	Reasoning   string   `json:"reasoning" validate:"required"`
	KeyFactors  []string `json:"key_factors" validate:"required,min=1,max=10,dive,required"`
	Risks       []string `json:"risks" validate:"omitempty,max=10,dive,required"`
	TimeHorizon string   `json:"time_horizon" validate:"omitempty,max=64"`
}

// AgentOutput is a model reply that passed schema validation.
type AgentOutput struct {
	Signal      models.Signal
	Confidence  models.Confidence
	TargetPrice *float64
	Reasoning   string
	KeyFactors  []string
	Risks       []string
	TimeHorizon string
}

// ParseAgentOutput decodes and validates a reply. Every failure is a permanent
// invalid-output error.
func ParseAgentOutput(text string) (AgentOutput, error) {
	body := stripFences(text)
	if body == "" {
		return AgentOutput{}, invalid("empty response")
	}

	var raw rawOutput
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return AgentOutput{}, invalid("decode json: %v", err)
	}
	raw.Reasoning = strings.TrimSpace(raw.Reasoning)
	raw.KeyFactors = trimAll(raw.KeyFactors)
	raw.Risks = trimAll(raw.Risks)

	if err := validate.Struct(raw); err != nil {
		return AgentOutput{}, invalid("schema: %v", err)
	}
	signal, err := models.ParseSignal(raw.Signal)
	if err != nil {
		return AgentOutput{}, invalid("%v", err)
	}
	confidence, err := models.ParseConfidence(raw.Confidence)
	if err != nil {
		return AgentOutput{}, invalid("%v", err)
	}
	if raw.TargetPrice != nil && *raw.TargetPrice == 0 {
		raw.TargetPrice = nil
	}

	return AgentOutput{
		Signal:      signal,
		Confidence:  confidence,
		TargetPrice: raw.TargetPrice,
		Reasoning:   raw.Reasoning,
		KeyFactors:  raw.KeyFactors,
		Risks:       raw.Risks,
		TimeHorizon: strings.TrimSpace(raw.TimeHorizon),
	}, nil
}

// stripFences removes a markdown code fence and any prose around the JSON object.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		return s
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func invalid(format string, a ...interface{}) error {
	return xerrors.Permanent(xerrors.KindInvalidOutput, 0, fmt.Errorf(format, a...))
}
