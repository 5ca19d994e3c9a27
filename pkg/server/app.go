package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EOSFit/internal/usecase"
	"EOSFit/pkg/config"
	xhttp "EOSFit/pkg/http"
	pkgkafka "EOSFit/pkg/kafka"
	applogger "EOSFit/pkg/logger"
)

// App encapsulates the application lifecycle. The same wiring backs the
// one-shot CLI commands, the HTTP API and the Kafka worker.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	jobs       pkgkafka.MessageHandler

	Fits    *usecase.FitRunner
	Deriver *usecase.Deriver
	Finder  *usecase.TransitionFinder
}

// New creates a new App. consumer may be nil when no brokers are
// configured.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	fits *usecase.FitRunner,
	deriver *usecase.Deriver,
	finder *usecase.TransitionFinder,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	jobs pkgkafka.MessageHandler,
) *App {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		consumer:   consumer,
		jobs:       jobs,
		Fits:       fits,
		Deriver:    deriver,
		Finder:     finder,
	}
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.logger }

// Serve runs the HTTP API, plus the job consumer when one is configured,
// until ctx is done or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	return a.run(ctx, true, a.consumer != nil)
}

// Work runs only the job consumer.
func (a *App) Work(ctx context.Context) error {
	if a.consumer == nil {
		return errors.New("worker needs kafka.brokers")
	}
	return a.run(ctx, false, true)
}

func (a *App) run(ctx context.Context, withHTTP, withConsumer bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if withConsumer {
		a.consumer.RegisterHandler(a.jobs)
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		a.logger.Info("fit job consumer started", applogger.String("topic", a.jobs.Topic()))
	}

	var serverErr <-chan error
	if withHTTP {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
		serverErr = a.httpServer.Err()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-serverErr:
	}
	return errors.Join(runErr, a.shutdown(withHTTP, withConsumer))
}

// shutdown stops the listeners. Sinks, caches and clients are released by
// the cleanup returned from the injector.
func (a *App) shutdown(withHTTP, withConsumer bool) error {
	a.logger.Info("shutting down...")
	timeout := 10 * time.Second
	if a.cfg != nil {
		timeout = a.cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if withHTTP {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if withConsumer {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
