package models

import (
	"fmt"
	"strings"
)

// Signal is a categorical directional recommendation.
type Signal string

const (
	SignalStrongBuy  Signal = "STRONG_BUY"
	SignalBuy        Signal = "BUY"
	SignalHold       Signal = "HOLD"
	SignalSell       Signal = "SELL"
	SignalStrongSell Signal = "STRONG_SELL"
)

// AllSignals lists signals from most bullish to most bearish.
var AllSignals = []Signal{SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell}

// BaseScore maps a signal onto the [-100, 100] voting scale.
func (s Signal) BaseScore() float64 {
	switch s {
	case SignalStrongBuy:
		return 100
	case SignalBuy:
		return 50
	case SignalSell:
		return -50
	case SignalStrongSell:
		return -100
	default:
		return 0
	}
}

// Direction is the coarse bucket used for agreement and vote counting.
type Direction string

const (
	Bullish Direction = "bullish"
	Neutral Direction = "neutral"
	Bearish Direction = "bearish"
)

// Direction returns the directional bucket of s.
func (s Signal) Direction() Direction {
	switch s {
	case SignalStrongBuy, SignalBuy:
		return Bullish
	case SignalSell, SignalStrongSell:
		return Bearish
	default:
		return Neutral
	}
}

func (s Signal) Valid() bool {
	switch s {
	case SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell:
		return true
	}
	return false
}

// ParseSignal accepts any casing and "strong buy" / "strong-buy" spellings.
func ParseSignal(v string) (Signal, error) {
	s := Signal(normalizeEnum(v))
	if !s.Valid() {
		return "", fmt.Errorf("unknown signal %q", v)
	}
	return s, nil
}

// Confidence is the categorical certainty attached to a signal.
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "VERY_HIGH"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceMedium   Confidence = "MEDIUM"
	ConfidenceLow      Confidence = "LOW"
	ConfidenceVeryLow  Confidence = "VERY_LOW"
)

// Multiplier converts a confidence level into its voting multiplier.
func (c Confidence) Multiplier() float64 {
	switch c {
	case ConfidenceVeryHigh:
		return 1.0
	case ConfidenceHigh:
		return 0.85
	case ConfidenceMedium:
		return 0.7
	case ConfidenceLow:
		return 0.5
	default:
		return 0.3
	}
}

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceVeryHigh, ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceVeryLow:
		return true
	}
	return false
}

// ParseConfidence accepts any casing and space or dash separators.
func ParseConfidence(v string) (Confidence, error) {
	c := Confidence(normalizeEnum(v))
	if !c.Valid() {
		return "", fmt.Errorf("unknown confidence %q", v)
	}
	return c, nil
}

func normalizeEnum(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "-", "_")
	return strings.ReplaceAll(v, " ", "_")
}
