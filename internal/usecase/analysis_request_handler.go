package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	xerrors "Consilium/pkg/errors"
	pkgkafka "Consilium/pkg/kafka"
	"Consilium/pkg/logger"
)

// Analyzer is the slice of Orchestrator the intake handler needs.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalyzeInput) (*models.AnalysisResult, error)
}

// AnalysisRequestHandler consumes analyze requests from Kafka. Results leave through the
// orchestrator's recorder, so the handler only reports success or failure.
type AnalysisRequestHandler struct {
	topic    string
	analyzer Analyzer
	metrics  drepo.Metrics
	logger   *logger.Logger
	validate *validator.Validate
}

func NewAnalysisRequestHandler(topic string, analyzer Analyzer, metrics drepo.Metrics, l *logger.Logger) *AnalysisRequestHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &AnalysisRequestHandler{topic: topic, analyzer: analyzer, metrics: metrics, logger: l, validate: validator.New()}
}

func (h *AnalysisRequestHandler) Topic() string { return h.topic }

// incoming message schema: AnalyzeRequest
func (h *AnalysisRequestHandler) Handle(ctx context.Context, b []byte) error {
	var req models.AnalyzeRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode analyze request: %v: %w", err, xerrors.ErrInvalidInput)
	}
	if err := h.validate.Struct(req); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("validate analyze request: %v: %w", err, xerrors.ErrInvalidInput)
	}

	start := time.Now()
	res, err := h.analyzer.Analyze(ctx, AnalyzeInput{
		Tickers:  req.Tickers,
		Filter:   models.AgentFilter{IDs: req.Agents, SkipSpecialists: req.SkipSpecialists},
		Deadline: time.Duration(req.DeadlineSeconds) * time.Second,
	})
	h.metrics.RecordLatency("consumer_analyze", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_analyze")
		return err
	}
	h.logger.Info("queued analysis complete",
		logger.String("request_id", res.RequestID),
		logger.Strings("tickers", res.Tickers),
		logger.Duration("elapsed_ms", res.ExecutionTime))
	return nil
}

var _ pkgkafka.MessageHandler = (*AnalysisRequestHandler)(nil)
