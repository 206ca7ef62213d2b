package usecase

import (
	"context"
	"fmt"
	"time"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/logger"
)

// ResultRecorder persists consensus results and fans them out to downstream consumers.
// Either collaborator may be nil.
type ResultRecorder struct {
	store   drepo.ConsensusStore
	pub     drepo.ResultPublisher
	metrics drepo.Metrics
	logger  *logger.Logger
	backend string
}

// NewResultRecorder creates a new ResultRecorder instance.
func NewResultRecorder(
	store drepo.ConsensusStore,
	pub drepo.ResultPublisher,
	metrics drepo.Metrics,
	l *logger.Logger,
	backend string,
) *ResultRecorder {
	if l == nil {
		l = logger.Nop()
	}
	return &ResultRecorder{store: store, pub: pub, metrics: metrics, logger: l, backend: backend}
}

// Record saves r, assigning its ID, then publishes it. Failures are logged, counted and
// returned joined; callers treat them as non-fatal.
func (p *ResultRecorder) Record(ctx context.Context, r *models.ConsensusResult) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}

	var saveErr, pubErr error
	if p.store != nil {
		start := time.Now()
		id, err := p.store.Save(ctx, r)
		p.metrics.RecordLatency("persist", time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordStoreWrite(p.backend, "error")
			p.metrics.RecordError("persist")
			p.logger.Error("persist consensus result failed",
				logger.String("ticker", r.Ticker),
				logger.String("request_id", r.RequestID),
				logger.Error(err))
			saveErr = fmt.Errorf("persist %s: %w", r.Ticker, err)
		} else {
			r.ID = id
			p.metrics.RecordStoreWrite(p.backend, "ok")
		}
	}

	if p.pub != nil {
		if err := p.pub.Publish(ctx, r); err != nil {
			p.metrics.RecordError("publish")
			p.logger.Error("publish consensus result failed",
				logger.String("ticker", r.Ticker),
				logger.String("request_id", r.RequestID),
				logger.Error(err))
			pubErr = fmt.Errorf("publish %s: %w", r.Ticker, err)
		} else {
			p.metrics.RecordMessageSent("kafka", r.Ticker)
		}
	}

	var errs xerrors.MultiError
	errs.Add(saveErr)
	errs.Add(pubErr)
	return errs.ToError()
}

// Load fetches a stored result by id.
func (p *ResultRecorder) Load(ctx context.Context, id string) (*models.ConsensusResult, error) {
	if p.store == nil {
		return nil, fmt.Errorf("no result store configured")
	}
	return p.store.Load(ctx, id)
}

// History queries stored results.
func (p *ResultRecorder) History(ctx context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error) {
	if p.store == nil {
		return nil, nil
	}
	start := time.Now()
	out, err := p.store.LoadHistory(ctx, f)
	p.metrics.RecordLatency("history", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordError("history")
		return nil, fmt.Errorf("load history: %w", err)
	}
	return out, nil
}

// Close closes underlying resources if available.
func (p *ResultRecorder) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
