package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	"Consilium/pkg/logger"
)

// PricePrimer accepts live prices into the market-data cache.
type PricePrimer interface {
	PrimePrice(ctx context.Context, ticker string, price float64, at time.Time)
}

// PriceWarmer keeps the price category warm from the live trade stream so analyses of
// subscribed symbols rarely pay for a quote fetch.
type PriceWarmer struct {
	stream  drepo.PriceStream
	cache   PricePrimer
	metrics drepo.Metrics
	logger  *logger.Logger
	done    chan struct{}
	started atomic.Bool
	closing atomic.Bool
}

func NewPriceWarmer(stream drepo.PriceStream, cache PricePrimer, metrics drepo.Metrics, l *logger.Logger) *PriceWarmer {
	if l == nil {
		l = logger.Nop()
	}
	return &PriceWarmer{stream: stream, cache: cache, metrics: metrics, logger: l, done: make(chan struct{})}
}

// IsConnected returns true if the market stream is connected.
func (w *PriceWarmer) IsConnected() bool {
	return w.stream.IsConnected()
}

func (w *PriceWarmer) Start(ctx context.Context) error {
	if err := w.stream.Connect(ctx); err != nil {
		return err
	}
	if err := w.stream.Subscribe(ctx); err != nil {
		return err
	}
	w.started.Store(true)
	go w.run(ctx)
	return nil
}

// run reads until ctx ends, reconnecting whenever the stream drops.
func (w *PriceWarmer) run(ctx context.Context) {
	defer close(w.done)
	for ctx.Err() == nil && !w.closing.Load() {
		trCh, errCh := w.stream.Read(ctx)
		if err := w.consume(ctx, trCh, errCh); err == nil {
			return
		}
		w.metrics.RecordError("stream")
		for ctx.Err() == nil && !w.closing.Load() {
			err := w.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			w.logger.Warn("price stream reconnect failed", logger.Error(err))
		}
	}
}

// consume returns nil when ctx ended and the stream error otherwise.
func (w *PriceWarmer) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errCh:
			if ok && err != nil {
				w.logger.Warn("price stream dropped", logger.Error(err))
				return err
			}
			if !ok {
				errCh = nil
			}
		case t, ok := <-trCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			if t == nil || t.Price <= 0 {
				continue
			}
			w.cache.PrimePrice(ctx, t.Symbol, t.Price, time.Unix(t.Timestamp, 0).UTC())
			w.metrics.RecordLastPrice(t.Symbol, t.Price)
		}
	}
}

// Shutdown closes the stream and waits for the reader to exit.
func (w *PriceWarmer) Shutdown(ctx context.Context) error {
	w.closing.Store(true)
	err := w.stream.Close()
	if !w.started.Load() {
		return err
	}
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return err
}
