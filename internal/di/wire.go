//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"Consilium/internal/usecase"
	"Consilium/pkg/config"
	"Consilium/pkg/server"
)

var coreSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideLimiter,

	// Market data
	ProvideHTTPClient,
	ProvideFinnhubSource,
	ProvideCacheStore,
	ProvideMarketCache,

	// Agents
	ProvideAgentCatalog,
	ProvideServiceTransport,
	ProvideAgentInvoker,
	ProvidePromptBuilder,
	usecase.NewAgentRunner,
	ProvideConsensusEngine,
	ProvideCostEstimator,

	// Persistence and fan-out
	ProvideConsensusStore,
	ProvideKafkaProducer,
	ProvideResultPublisher,
	ProvideResultRecorder,

	ProvideOrchestrator,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		coreSet,
		ProvideAnalysisHandler,
		ProvideAnalysisConsumer,
		ProvidePriceWarmer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeOrchestrator wires the analysis pipeline alone, for one-shot CLI commands.
func InitializeOrchestrator(cfg *config.Config) (*usecase.Orchestrator, func(), error) {
	wire.Build(coreSet)
	return nil, nil, nil
}
