package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Consilium/internal/usecase"
	"Consilium/pkg/config"
	xhttp "Consilium/pkg/http"
	pkgkafka "Consilium/pkg/kafka"
	applogger "Consilium/pkg/logger"
)

// App encapsulates the service lifecycle: HTTP API, optional Kafka intake and optional
// live price warming. Infrastructure clients are closed by the DI cleanup, not here.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	handler    xhttp.Handler
	consumer   *pkgkafka.Consumer
	warmer     *usecase.PriceWarmer
	httpServer *xhttp.Server
}

// New creates a new App instance. consumer and warmer may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	warmer *usecase.PriceWarmer,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:      cfg,
		logger:   l,
		handler:  handler,
		consumer: consumer,
		warmer:   warmer,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(a.metricsPath()),
		xhttp.WithCORS(a.cfg.Server.CORSOrigins...),
		xhttp.WithBodyLimit(a.cfg.Server.BodyLimit),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithLogger(a.logger),
	)

	if a.warmer != nil {
		if err := a.warmer.Start(ctx); err != nil {
			// analyses still work from REST quotes
			a.logger.Warn("price warmer not started", applogger.Error(err))
		} else {
			a.logger.Info("price warmer started", applogger.Strings("symbols", a.cfg.Finnhub.Stream.Symbols))
		}
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.Topics.Requests))
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}
	return nil
}

func (a *App) metricsPath() string {
	if !a.cfg.Metrics.Enabled {
		return ""
	}
	return a.cfg.Metrics.Path
}

// shutdown stops intake first so nothing new starts while the HTTP server drains.
func (a *App) shutdown() error {
	a.logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.warmer != nil {
		if err := a.warmer.Shutdown(ctx); err != nil {
			a.logger.Warn("price warmer stop error", applogger.Error(err))
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete", applogger.Duration("budget", a.cfg.Server.ShutdownTimeout.Round(time.Millisecond)))
	return nil
}
