package repository

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"Consilium/internal/domain/models"
	domrepo "Consilium/internal/domain/repository"
	xerrors "Consilium/pkg/errors"
)

//go:embed catalog/agents.yaml
var defaultCatalog []byte

type catalogFile struct {
	Investors   []models.AgentDefinition `yaml:"investors"`
	Specialists []models.AgentDefinition `yaml:"specialists"`
}

// Catalog is the immutable set of agent definitions, investors first, in file order.
type Catalog struct {
	agents []models.AgentDefinition
	byID   map[string]int
}

var _ domrepo.AgentCatalog = (*Catalog)(nil)

// LoadCatalog reads the catalog at path, or the embedded default when path is empty, and
// applies per-id weight overrides.
func LoadCatalog(path string, weights map[string]float64) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read agent catalog: %w", err)
		}
		raw = b
	}
	return ParseCatalog(raw, weights)
}

func ParseCatalog(raw []byte, weights map[string]float64) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, xerrors.NewConfigurationError("agents.catalog_path", "parse catalog: %v", err)
	}

	c := &Catalog{byID: make(map[string]int)}
	add := func(defs []models.AgentDefinition, kind models.AgentKind) error {
		for _, a := range defs {
			a.ID = strings.ToLower(strings.TrimSpace(a.ID))
			a.Kind = kind
			a.Persona = strings.TrimSpace(a.Persona)
			if err := validateAgent(a); err != nil {
				return err
			}
			if _, dup := c.byID[a.ID]; dup {
				return xerrors.NewConfigurationError("agents."+a.ID, "duplicate agent id")
			}
			c.byID[a.ID] = len(c.agents)
			c.agents = append(c.agents, a)
		}
		return nil
	}
	if err := add(f.Investors, models.AgentInvestor); err != nil {
		return nil, err
	}
	if err := add(f.Specialists, models.AgentSpecialist); err != nil {
		return nil, err
	}
	if len(c.agents) == 0 {
		return nil, xerrors.NewConfigurationError("agents", "catalog defines no agents")
	}

	for id, w := range weights {
		i, ok := c.byID[strings.ToLower(id)]
		if !ok {
			return nil, xerrors.NewConfigurationError("agents.weights."+id, "unknown agent id")
		}
		if w < 0 {
			return nil, xerrors.NewConfigurationError("agents.weights."+id, "weight must be >= 0, got %v", w)
		}
		c.agents[i].Weight = w
	}
	return c, nil
}

func validateAgent(a models.AgentDefinition) error {
	field := "agents." + a.ID
	switch {
	case a.ID == "":
		return xerrors.NewConfigurationError("agents", "agent without id")
	case a.Weight < 0:
		return xerrors.NewConfigurationError(field+".weight", "must be >= 0, got %v", a.Weight)
	case a.Persona == "":
		return xerrors.NewConfigurationError(field+".persona", "required")
	case len(a.RequiredDataCategories) == 0:
		return xerrors.NewConfigurationError(field+".required_data_categories", "at least one category is required")
	}
	for _, rc := range a.RequiredDataCategories {
		if !rc.Valid() {
			return xerrors.NewConfigurationError(field+".required_data_categories", "unknown category %q", rc)
		}
	}
	if a.DisplayName == "" {
		return xerrors.NewConfigurationError(field+".display_name", "required")
	}
	return nil
}

// List returns a copy so callers cannot mutate shared definitions.
func (c *Catalog) List() []models.AgentDefinition {
	out := make([]models.AgentDefinition, len(c.agents))
	copy(out, c.agents)
	return out
}

func (c *Catalog) Get(id string) (models.AgentDefinition, bool) {
	i, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return models.AgentDefinition{}, false
	}
	return c.agents[i], true
}
