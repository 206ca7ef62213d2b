package models

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// ComponentCost is one line of a cost breakdown, e.g. "investors".
type ComponentCost struct {
	Component    string          `json:"component"`
	Calls        int             `json:"calls"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// CostEstimate is a pre-flight projection shown before any spend occurs.
type CostEstimate struct {
	Model                 string          `json:"model"`
	TickerCount           int             `json:"ticker_count"`
	PerComponentBreakdown []ComponentCost `json:"per_component_breakdown"`
	TotalCalls            int             `json:"total_calls"`
	TotalInputTokens      int64           `json:"total_input_tokens"`
	TotalOutputTokens     int64           `json:"total_output_tokens"`
	TotalCost             decimal.Decimal `json:"total_cost"`
}

// Component returns the breakdown line for name, if present.
func (e CostEstimate) Component(name string) (ComponentCost, bool) {
	for _, c := range e.PerComponentBreakdown {
		if c.Component == name {
			return c, true
		}
	}
	return ComponentCost{}, false
}

// Summary renders a compact multi-line description for confirmation prompts.
func (e CostEstimate) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Estimated cost for %d ticker(s) on %s\n", e.TickerCount, e.Model)
	for _, c := range e.PerComponentBreakdown {
		fmt.Fprintf(&b, "  %-12s %4d calls  %10s in  %10s out  $%s\n",
			c.Component, c.Calls,
			humanize.Comma(c.InputTokens), humanize.Comma(c.OutputTokens),
			c.Cost.StringFixed(4))
	}
	fmt.Fprintf(&b, "  %-12s %4d calls  %10s in  %10s out  $%s",
		"total", e.TotalCalls,
		humanize.Comma(e.TotalInputTokens), humanize.Comma(e.TotalOutputTokens),
		e.TotalCost.StringFixed(4))
	return b.String()
}
