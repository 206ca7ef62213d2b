package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	xerrors "Consilium/pkg/errors"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := LoadCatalog("", nil)
	require.NoError(t, err)

	var investors, specialists int
	for _, a := range c.List() {
		if a.IsSpecialist() {
			specialists++
		} else {
			investors++
		}
		assert.NotEmpty(t, a.Persona, a.ID)
		assert.NotEmpty(t, a.RequiredDataCategories, a.ID)
	}
	assert.Equal(t, 13, investors)
	assert.Equal(t, 7, specialists)

	buffett, ok := c.Get("Buffett")
	require.True(t, ok)
	assert.Equal(t, 2.0, buffett.Weight)
	assert.Equal(t, models.AgentInvestor, buffett.Kind)

	political, ok := c.Get("political")
	require.True(t, ok)
	assert.Equal(t, 1.1, political.Weight)
	assert.Equal(t, models.AgentSpecialist, political.Kind)

	assert.Equal(t, "buffett", c.List()[0].ID)
}

func TestCatalogWeightOverrides(t *testing.T) {
	c, err := LoadCatalog("", map[string]float64{"simons": 3, "SENTIMENT": 0})
	require.NoError(t, err)

	simons, _ := c.Get("simons")
	assert.Equal(t, 3.0, simons.Weight)
	sentiment, _ := c.Get("sentiment")
	assert.Equal(t, 0.0, sentiment.Weight)

	_, err = LoadCatalog("", map[string]float64{"soros": 1})
	assert.ErrorIs(t, err, xerrors.ErrConfiguration)
}

func TestCatalogListIsACopy(t *testing.T) {
	c, err := LoadCatalog("", nil)
	require.NoError(t, err)
	l := c.List()
	l[0].Weight = 99
	first, _ := c.Get(l[0].ID)
	assert.NotEqual(t, 99.0, first.Weight)
}

func TestParseCatalogRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate id": `
investors:
  - {id: a, display_name: A, weight: 1, persona: p, required_data_categories: [price]}
  - {id: A, display_name: A2, weight: 1, persona: p, required_data_categories: [price]}
`,
		"negative weight": `
investors:
  - {id: a, display_name: A, weight: -1, persona: p, required_data_categories: [price]}
`,
		"unknown category": `
specialists:
  - {id: s, display_name: S, weight: 1, persona: p, required_data_categories: [news]}
`,
		"empty": `investors: []`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(body), nil)
			assert.ErrorIs(t, err, xerrors.ErrConfiguration)
		})
	}
}
