package llm

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/dustin/go-humanize"

	"Consilium/internal/domain/models"
	"Consilium/internal/domain/service"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// TemplateBuilder renders prompts from the embedded templates. It is safe for concurrent use.
type TemplateBuilder struct {
	tmpl *template.Template
}

var _ service.PromptBuilder = (*TemplateBuilder)(nil)

func NewTemplateBuilder() (*TemplateBuilder, error) {
	tmpl, err := template.New("prompts").Funcs(template.FuncMap{
		"num":   formatNum,
		"pct":   formatPct,
		"money": func(v float64) string { return "$" + humanize.CommafWithDigits(v, 2) },
		"mcap":  formatMarketCap,
		"join":  joinAny,
		"list":  strings.Join,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &TemplateBuilder{tmpl: tmpl}, nil
}

type promptData struct {
	Agent      models.AgentDefinition
	Specialist bool
	Ticker     string
	Snapshot   *models.MarketSnapshot
	Missing    []models.DataCategory
	Stale      []models.DataCategory
	Briefings  []models.AgentResponse
}

// Build renders the system and user prompt. The snapshot must already be narrowed to the
// categories the agent declared. Specialists never see briefings.
func (b *TemplateBuilder) Build(agent models.AgentDefinition, ticker string, snapshot *models.MarketSnapshot, briefings []models.AgentResponse) (service.Prompt, error) {
	if snapshot == nil {
		snapshot = &models.MarketSnapshot{Ticker: ticker}
	}
	data := promptData{
		Agent:      agent,
		Specialist: agent.IsSpecialist(),
		Ticker:     ticker,
		Snapshot:   snapshot,
		Missing:    snapshot.Missing,
	}
	if !data.Specialist {
		data.Briefings = briefings
	}
	for _, c := range models.AllCategories {
		if st, ok := snapshot.Stamps[c]; ok && st.Stale {
			data.Stale = append(data.Stale, c)
		}
	}

	var sys, user bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&sys, "system.tmpl", data); err != nil {
		return service.Prompt{}, fmt.Errorf("render system prompt for %s: %w", agent.ID, err)
	}
	if err := b.tmpl.ExecuteTemplate(&user, "analysis.tmpl", data); err != nil {
		return service.Prompt{}, fmt.Errorf("render analysis prompt for %s: %w", agent.ID, err)
	}
	return service.Prompt{System: strings.TrimSpace(sys.String()), User: strings.TrimSpace(user.String())}, nil
}

func formatNum(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatPct(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

// formatMarketCap takes the provider's figure in millions.
func formatMarketCap(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return "$" + humanize.CommafWithDigits(*v, 0) + "M"
}

func joinAny(items []models.DataCategory, sep string) string {
	parts := make([]string, len(items))
	for i, c := range items {
		parts[i] = string(c)
	}
	return strings.Join(parts, sep)
}
