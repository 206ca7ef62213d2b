package repository

import (
	"context"
	"time"

	"Consilium/internal/domain/models"
)

// MarketDataSource is the external market-data provider, one category per call.
type MarketDataSource interface {
	Fetch(ctx context.Context, ticker string, category models.DataCategory) (models.CategoryData, error)
}

// CandleSource serves daily bars for technical indicators.
type CandleSource interface {
	Candles(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error)
}

// PriceStream is a live trade feed used to keep the price category warm.
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ConsensusStore is the persistence collaborator for consensus results.
type ConsensusStore interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, r *models.ConsensusResult) (string, error)
	Load(ctx context.Context, id string) (*models.ConsensusResult, error)
	LoadHistory(ctx context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error)
	Health(ctx context.Context) error
	Close() error
}

// ResultPublisher fans consensus results out to downstream consumers.
type ResultPublisher interface {
	Publish(ctx context.Context, r *models.ConsensusResult) error
	PublishBatch(ctx context.Context, rs []models.ConsensusResult) error
	Close() error
}

// AgentCatalog lists the immutable agent definitions loaded at startup.
type AgentCatalog interface {
	List() []models.AgentDefinition
	Get(id string) (models.AgentDefinition, bool)
}

type Metrics interface {
	RecordMessageSent(backend, ticker string)
	RecordStoreWrite(backend, outcome string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordAgentCall(agentID, outcome string, seconds float64)
	RecordRetry(agentID, kind string)
	RecordCacheLookup(category, result string)
	RecordConsensus(ticker string, score float64, signal string)
}
