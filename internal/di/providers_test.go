package di

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	"Consilium/internal/repository"
	"Consilium/pkg/config"
	xerrors "Consilium/pkg/errors"
	applogger "Consilium/pkg/logger"
)

func TestRetryableIntake(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("decode: %w", xerrors.ErrInvalidInput), false},
		{xerrors.Permanent(xerrors.KindUpstream, 401, errors.New("unauthorized")), false},
		{xerrors.NewConfigurationError("llm.api_key", "missing"), false},
		{xerrors.Transient(xerrors.KindUpstream, 503, errors.New("unavailable")), true},
		{context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, retryableIntake(tc.err), "%v", tc.err)
	}
}

func TestProvideMemoryBackends(t *testing.T) {
	cfg := config.Default()
	l := applogger.Nop()

	store, cleanup, err := ProvideConsensusStore(cfg, l)
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &repository.MemoryStore{}, store)

	bytes, cleanupCache, err := ProvideCacheStore(cfg, l)
	require.NoError(t, err)
	defer cleanupCache()
	require.NoError(t, bytes.SetBytes(context.Background(), "k", []byte("v"), 0))
}

func TestKafkaDisabledYieldsNilCollaborators(t *testing.T) {
	cfg := config.Default()
	cfg.Kafka.Enabled = false
	l := applogger.Nop()

	producer, cleanup, err := ProvideKafkaProducer(cfg, l)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, producer)

	pub, cleanupPub := ProvideResultPublisher(cfg, producer, l)
	defer cleanupPub()
	assert.Nil(t, pub)

	consumer, err := ProvideAnalysisConsumer(cfg, nil, nil, l)
	require.NoError(t, err)
	assert.Nil(t, consumer)
}

func TestProvideCostEstimatorUsesConfiguredPricing(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Model = "house-model-large"
	cfg.Cost.Pricing = []config.ModelPrice{{Match: "house-model", Input: 1, Output: 2}}

	est := ProvideCostEstimator(cfg).Estimate([]models.AgentDefinition{
		{ID: "buffett", Kind: models.AgentInvestor, Weight: 2},
	}, 1)

	// 1300 in at $1/M plus 700 out at $2/M
	assert.Equal(t, "0.0027", est.TotalCost.StringFixed(4))
}

func TestProvideAgentCatalogEmbedded(t *testing.T) {
	cat, err := ProvideAgentCatalog(config.Default())
	require.NoError(t, err)
	_, ok := cat.Get("BUFFETT")
	assert.True(t, ok)
}

func TestPriceWarmerDisabledByDefault(t *testing.T) {
	assert.Nil(t, ProvidePriceWarmer(config.Default(), nil, nil, applogger.Nop()))
}
