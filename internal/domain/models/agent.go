package models

import "strings"

// AgentKind separates famous-investor personas from analytical specialists.
type AgentKind string

const (
	AgentInvestor   AgentKind = "investor"
	AgentSpecialist AgentKind = "specialist"
)

// DataCategory is one independently cached slice of market data.
type DataCategory string

const (
	CategoryPrice        DataCategory = "price"
	CategoryFundamentals DataCategory = "fundamentals"
	CategoryTechnicals   DataCategory = "technicals"
	CategoryInfo         DataCategory = "info"
)

// AllCategories is the fixed set of snapshot categories.
var AllCategories = []DataCategory{CategoryPrice, CategoryFundamentals, CategoryTechnicals, CategoryInfo}

func (c DataCategory) Valid() bool {
	switch c {
	case CategoryPrice, CategoryFundamentals, CategoryTechnicals, CategoryInfo:
		return true
	}
	return false
}

// AgentDefinition binds a persona to a weight and the data it needs.
// Definitions are built once from the catalog and shared read-only across workers.
type AgentDefinition struct {
	ID                     string         `json:"id" yaml:"id"`
	Kind                   AgentKind      `json:"kind" yaml:"kind"`
	DisplayName            string         `json:"display_name" yaml:"display_name"`
	Weight                 float64        `json:"weight" yaml:"weight"`
	RequiredDataCategories []DataCategory `json:"required_data_categories" yaml:"required_data_categories"`
	Persona                string         `json:"-" yaml:"persona"`
	Focus                  string         `json:"focus,omitempty" yaml:"focus"`
}

// Requires reports whether the agent declared c as an input.
func (a AgentDefinition) Requires(c DataCategory) bool {
	for _, rc := range a.RequiredDataCategories {
		if rc == c {
			return true
		}
	}
	return false
}

// IsSpecialist is a convenience for kind checks.
func (a AgentDefinition) IsSpecialist() bool { return a.Kind == AgentSpecialist }

// AgentFilter selects a subset of the catalog. An empty ID list selects everything.
type AgentFilter struct {
	IDs             []string
	SkipSpecialists bool
}

// Matches applies the filter to a single definition.
func (f AgentFilter) Matches(a AgentDefinition) bool {
	if f.SkipSpecialists && a.IsSpecialist() {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if strings.EqualFold(strings.TrimSpace(id), a.ID) {
			return true
		}
	}
	return false
}
