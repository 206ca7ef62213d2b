package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"Consilium/internal/domain/models"
)

type palette struct {
	title    lipgloss.Style
	header   lipgloss.Style
	detail   lipgloss.Style
	faint    lipgloss.Style
	failure  lipgloss.Style
	bullish  lipgloss.Style
	neutral  lipgloss.Style
	bearish  lipgloss.Style
	emphasis lipgloss.Style
}

var styles = palette{
	title:    lipgloss.NewStyle().Bold(true),
	header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	detail:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	faint:    lipgloss.NewStyle().Faint(true),
	failure:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
	bullish:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	neutral:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	bearish:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	emphasis: lipgloss.NewStyle().Bold(true),
}

func signalStyle(s models.Signal) lipgloss.Style {
	var st lipgloss.Style
	switch s.Direction() {
	case models.Bullish:
		st = styles.bullish
	case models.Bearish:
		st = styles.bearish
	default:
		st = styles.neutral
	}
	if s == models.SignalStrongBuy || s == models.SignalStrongSell {
		st = st.Bold(true)
	}
	return st
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderHint(w io.Writer, msg string) {
	fmt.Fprintln(w, styles.faint.Render(msg))
}

func renderEstimate(w io.Writer, e models.CostEstimate) {
	fmt.Fprintln(w, styles.title.Render(fmt.Sprintf("Estimate: %d ticker(s) on %s", e.TickerCount, e.Model)))
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("  %-12s %6s %12s %12s %10s", "component", "calls", "input", "output", "cost")))
	for _, c := range e.PerComponentBreakdown {
		fmt.Fprintln(w, styles.detail.Render(fmt.Sprintf("  %-12s %6d %12s %12s %10s",
			c.Component, c.Calls, humanize.Comma(c.InputTokens), humanize.Comma(c.OutputTokens), "$"+c.Cost.StringFixed(4))))
	}
	fmt.Fprintln(w, styles.emphasis.Render(fmt.Sprintf("  %-12s %6d %12s %12s %10s",
		"total", e.TotalCalls, humanize.Comma(e.TotalInputTokens), humanize.Comma(e.TotalOutputTokens), "$"+e.TotalCost.StringFixed(4))))
}

func renderAnalysis(w io.Writer, res *models.AnalysisResult) {
	fmt.Fprintln(w, styles.title.Render(fmt.Sprintf("Analysis %s", res.RequestID)))
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%d agent(s), %d ticker(s), finished in %s",
		res.AgentsUsed, len(res.Tickers), res.ExecutionTime.Round(time.Millisecond))))
	for i := range res.Results {
		fmt.Fprintln(w)
		renderConsensus(w, &res.Results[i])
	}
	if res.Estimate != nil {
		fmt.Fprintln(w)
		renderHint(w, fmt.Sprintf("estimated spend $%s", res.Estimate.TotalCost.StringFixed(4)))
	}
}

func renderConsensus(w io.Writer, r *models.ConsensusResult) {
	head := fmt.Sprintf("%s  %s  score %+.1f  confidence %s",
		styles.emphasis.Render(r.Ticker),
		signalStyle(r.Signal).Render(string(r.Signal)),
		r.Score,
		r.Confidence)
	fmt.Fprintln(w, head)

	in, out := r.TokenUsage()
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("  %s, agreement %.0f%%, votes %d buy / %d hold / %d sell, %s in / %s out tokens",
		r.Coverage(), r.AgreementRatio*100,
		r.VoteCounts.Buy, r.VoteCounts.Hold, r.VoteCounts.Sell,
		humanize.Comma(in), humanize.Comma(out))))

	if r.Degraded {
		fmt.Fprintln(w, styles.failure.Render("  degraded: no agent produced a usable vote"))
	}
	if len(r.MissingData) > 0 {
		missing := make([]string, len(r.MissingData))
		for i, c := range r.MissingData {
			missing[i] = string(c)
		}
		fmt.Fprintln(w, styles.failure.Render("  missing data: "+strings.Join(missing, ", ")))
	}
	if len(r.KeyThemes) > 0 {
		fmt.Fprintln(w, styles.detail.Render("  themes: "+strings.Join(r.KeyThemes, "; ")))
	}
	if len(r.PrimaryRisks) > 0 {
		fmt.Fprintln(w, styles.detail.Render("  risks:  "+strings.Join(r.PrimaryRisks, "; ")))
	}
	if len(r.Dissenters) > 0 {
		fmt.Fprintln(w, styles.detail.Render("  dissenters: "+strings.Join(r.Dissenters, ", ")))
	}

	for _, resp := range r.ContributingResponses {
		fmt.Fprintf(w, "  %-22s %s %s\n",
			resp.AgentName,
			signalStyle(resp.Signal).Render(fmt.Sprintf("%-11s", resp.Signal)),
			styles.faint.Render(string(resp.Confidence)))
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %-22s %s\n", f.AgentID, styles.failure.Render(string(f.Kind)))
	}
	if r.Reasoning != "" {
		fmt.Fprintln(w, styles.faint.Render("  "+r.Reasoning))
	}
}

func renderHistory(w io.Writer, results []models.ConsensusResult) {
	if len(results) == 0 {
		renderHint(w, "no stored results")
		return
	}
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%-36s  %-8s %-11s %7s  %-9s  %s", "id", "ticker", "signal", "score", "coverage", "created")))
	for _, r := range results {
		fmt.Fprintf(w, "%-36s  %-8s %s %7.1f  %-9s  %s\n",
			r.ID,
			r.Ticker,
			signalStyle(r.Signal).Render(fmt.Sprintf("%-11s", r.Signal)),
			r.Score,
			fmt.Sprintf("%d/%d", r.Responded(), r.Selected()),
			styles.faint.Render(humanize.Time(r.CreatedAt)))
	}
}

func renderAgents(w io.Writer, agents []models.AgentDefinition) {
	if len(agents) == 0 {
		renderHint(w, "no agents match")
		return
	}
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%-14s %-24s %-10s %6s  %s", "id", "name", "kind", "weight", "needs")))
	for _, a := range agents {
		needs := make([]string, len(a.RequiredDataCategories))
		for i, c := range a.RequiredDataCategories {
			needs[i] = string(c)
		}
		fmt.Fprintf(w, "%-14s %-24s %-10s %6.2f  %s\n", a.ID, a.DisplayName, a.Kind, a.Weight, styles.faint.Render(strings.Join(needs, ",")))
	}
}
